// Command quill runs a single journal segment writer: it appends records
// read from stdin to a replicated ledger, seals at a fixed interval and
// serves status endpoints. One process owns one segment under the write
// lock; a second writer for the same segment fails to start.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quillio/quill/pkg/codec"
	"github.com/quillio/quill/pkg/config"
	"github.com/quillio/quill/pkg/db"
	"github.com/quillio/quill/pkg/journal"
	"github.com/quillio/quill/pkg/ledger"
	"github.com/quillio/quill/pkg/ledger/file"
	"github.com/quillio/quill/pkg/ledger/jetstream"
	"github.com/quillio/quill/pkg/ledger/kafka"
	"github.com/quillio/quill/pkg/lock"
	"github.com/quillio/quill/pkg/lock/dblock"
	"github.com/quillio/quill/pkg/lock/pglock"
	"github.com/quillio/quill/pkg/logging"
	obsprom "github.com/quillio/quill/pkg/observability/prometheus"
	"github.com/quillio/quill/pkg/observability/otel"
	"github.com/quillio/quill/pkg/registry"
	"github.com/quillio/quill/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("quill", parseLevel(cfg.Logging.Level))
	if err := run(cfg, logger); err != nil {
		logger.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx := context.Background()
	metrics := obsprom.GetMetrics()

	if cfg.Tracing.Enabled {
		otelCfg := otel.Config{
			ServiceName: "quill",
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
		}
		if err := otel.Initialize(ctx, otelCfg); err != nil {
			logger.Warnf("tracing disabled: %v", err)
		} else {
			defer otel.Shutdown(ctx)
		}
	}

	handle, ledgerRef, err := openLedger(cfg, logger, metrics)
	if err != nil {
		return err
	}

	wl, lockCleanup, err := openLock(ctx, cfg)
	if err != nil {
		return err
	}
	defer lockCleanup()

	var reg *registry.Registry
	if cfg.Registry.Enabled {
		pool, err := db.Open(ctx, db.Config{Driver: cfg.Registry.Driver, DSN: cfg.Registry.DSN})
		if err != nil {
			return fmt.Errorf("opening registry database: %w", err)
		}
		defer pool.Close()
		reg, err = registry.Open(pool, cfg.Registry.Driver == "postgres")
		if err != nil {
			return err
		}
	}

	writer, err := journal.NewWriter(journal.Config{
		TransmissionThreshold: cfg.Segment.TransmissionThreshold,
		FailurePolicy:         parsePolicy(cfg.Segment.FailurePolicy),
		Logger:                logging.New("journal", parseLevel(cfg.Logging.Level)),
		Metrics:               metrics,
	}, handle, wl)
	if err != nil {
		return err
	}
	logger.Infof("segment %s open on %s ledger (%s), first txid %d",
		cfg.Segment.Name, cfg.Ledger.Backend, ledgerRef, cfg.Segment.FirstTxID)

	if reg != nil {
		if err := reg.Create(cfg.Segment.Name, ledgerRef, cfg.Segment.FirstTxID); err != nil {
			logger.Warnf("recording segment: %v", err)
		}
	}

	if cfg.Web.Enabled {
		srv := web.New(web.Config{
			Addr:   cfg.Web.Addr,
			Logger: logging.New("web", parseLevel(cfg.Logging.Level)),
			Readiness: func() error {
				if st := writer.State(); st != "open" {
					return fmt.Errorf("writer is %s", st)
				}
				return nil
			},
			Status: func() web.Status {
				return web.Status{
					Segment:       cfg.Segment.Name,
					State:         writer.State(),
					Pending:       writer.Pending(),
					BufferedBytes: writer.BufferedBytes(),
				}
			},
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Errorf("status server: %v", err)
			}
		}()
		defer srv.Shutdown()
	}

	lastTxID, runErr := pump(cfg, logger, writer)

	if runErr != nil {
		logger.Errorf("segment failed: %v", runErr)
		if abortErr := writer.Abort(); abortErr != nil {
			logger.Errorf("abort: %v", abortErr)
		}
		if reg != nil {
			if err := reg.MarkAborted(cfg.Segment.Name); err != nil {
				logger.Warnf("recording abort: %v", err)
			}
		}
		return runErr
	}

	if err := writer.Close(); err != nil {
		logger.Errorf("close failed, aborting segment: %v", err)
		if abortErr := writer.Abort(); abortErr != nil {
			logger.Errorf("abort: %v", abortErr)
		}
		if reg != nil {
			if regErr := reg.MarkAborted(cfg.Segment.Name); regErr != nil {
				logger.Warnf("recording abort: %v", regErr)
			}
		}
		return err
	}
	if reg != nil {
		if err := reg.Finalize(cfg.Segment.Name, lastTxID); err != nil {
			logger.Warnf("recording finalize: %v", err)
		}
	}
	logger.Infof("segment %s closed, last txid %d", cfg.Segment.Name, lastTxID)
	return nil
}

// pump feeds stdin lines into the writer and seals on a fixed interval.
// It returns the last appended transaction id and the first error that
// should abort the segment. A clean stdin EOF or a shutdown signal returns
// a nil error; Close then performs the final seal.
func pump(cfg *config.Config, logger logging.Logger, writer *journal.Writer) (uint64, error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), codec.MaxRecordData)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(cfg.Segment.SealInterval.Std())
	defer ticker.Stop()

	txid := cfg.Segment.FirstTxID
	last := txid - 1
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return last, fmt.Errorf("reading input: %w", err)
				}
				return last, nil
			}
			rec := &codec.Record{TxID: txid, Op: codec.OpUpdate, Data: []byte(line)}
			if err := writer.Append(rec); err != nil {
				return last, fmt.Errorf("appending txid %d: %w", txid, err)
			}
			last = txid
			txid++

		case <-ticker.C:
			if writer.BufferedBytes() == 0 && writer.Pending() == 0 {
				continue
			}
			if err := checkpoint(writer); err != nil {
				return last, err
			}
			logger.Debugf("checkpoint durable through txid %d", last)

		case sig := <-sigs:
			logger.Infof("received %s, closing segment", sig)
			return last, nil
		}
	}
}

func checkpoint(writer *journal.Writer) error {
	if err := writer.Seal(); err != nil {
		return fmt.Errorf("sealing: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := writer.WaitDurable(waitCtx); err != nil {
		return fmt.Errorf("waiting for durability: %w", err)
	}
	return nil
}

func openLedger(cfg *config.Config, logger logging.Logger, metrics *obsprom.Metrics) (ledger.Handle, string, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemory(), "memory", nil
	case "file":
		durability := file.DurabilityBuffer
		if cfg.Ledger.File.Fsync {
			durability = file.DurabilityFsync
		}
		h, err := file.Open(file.Config{
			Dir:        cfg.Ledger.File.Dir,
			Segment:    cfg.Segment.Name,
			Durability: durability,
			Logger:     logging.New("ledger/file", parseLevel(cfg.Logging.Level)),
			Metrics:    metrics,
		})
		if err != nil {
			return nil, "", err
		}
		return h, file.SegmentPath(cfg.Ledger.File.Dir, cfg.Segment.Name), nil
	case "jetstream":
		js := cfg.Ledger.JetStream
		h, err := jetstream.Open(jetstream.Config{
			URL:        js.URL,
			Stream:     js.Stream,
			Subject:    js.Subject,
			Replicas:   js.Replicas,
			MaxAge:     js.MaxAge.Std(),
			AckTimeout: js.AckTimeout.Std(),
			Name:       "quill-" + cfg.Segment.Name,
			Logger:     logging.New("ledger/jetstream", parseLevel(cfg.Logging.Level)),
			Metrics:    metrics,
		})
		if err != nil {
			return nil, "", err
		}
		return h, js.Stream + "/" + js.Subject, nil
	case "kafka":
		k := cfg.Ledger.Kafka
		h, err := kafka.Open(kafka.Config{
			Brokers:  k.Brokers,
			Topic:    k.Topic,
			RetryMax: k.RetryMax,
			Logger:   logging.New("ledger/kafka", parseLevel(cfg.Logging.Level)),
			Metrics:  metrics,
		})
		if err != nil {
			return nil, "", err
		}
		return h, k.Topic, nil
	}
	return nil, "", fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
}

func openLock(ctx context.Context, cfg *config.Config) (lock.WriteLock, func(), error) {
	segment := cfg.Segment.Name
	switch cfg.Lock.Backend {
	case "memory":
		return lock.NewRegistry().WriteLock(segment), func() {}, nil
	case "db":
		pool, err := db.Open(ctx, db.Config{Driver: cfg.Lock.Driver, DSN: cfg.Lock.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("opening lock database: %w", err)
		}
		dialect := dblock.DialectSQLite
		if cfg.Lock.Driver == "postgres" {
			dialect = dblock.DialectPostgres
		}
		store, err := dblock.NewStore(pool, dblock.Config{
			Dialect:    dialect,
			LeaseTTL:   cfg.Lock.LeaseTTL.Std(),
			CheckCache: cfg.Lock.CheckCache.Std(),
		})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store.WriteLock(segment), func() { pool.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Lock.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting lock pool: %w", err)
		}
		return pglock.New(pool).WriteLock(segment), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
}

func parsePolicy(s string) journal.FailurePolicy {
	if s == "fence" {
		return journal.FailureFence
	}
	return journal.FailureReport
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
