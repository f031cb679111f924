// Package jetstream backs a ledger handle with a NATS JetStream stream.
// JetStream gives the replicated, quorum-acknowledged append-only sequence
// the journal needs: publishes are acknowledged once the stream's Raft group
// commits them, and the acknowledged sequence number serves as the entry id.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quillio/quill/pkg/ledger"
	"github.com/quillio/quill/pkg/logging"
	obsprom "github.com/quillio/quill/pkg/observability/prometheus"
)

const backendName = "jetstream"

// Config configures a JetStream-backed ledger handle.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Stream is the JetStream stream holding the segment. Default "QUILL".
	Stream string

	// Subject is the subject blocks are published to. Default
	// "quill.segment.default".
	Subject string

	// Replicas configures the stream replication factor (the write quorum
	// is derived from it by the server). Default 1.
	Replicas int

	// MaxAge bounds stream retention; zero keeps entries until limits apply.
	MaxAge time.Duration

	// AckTimeout bounds how long an append may stay unacknowledged before
	// its completion fires with a Timeout code. Default 30s.
	AckTimeout time.Duration

	// Name is an optional NATS connection name.
	Name string

	Logger  logging.Logger
	Metrics *obsprom.Metrics
}

// Handle implements ledger.Handle on a JetStream stream.
type Handle struct {
	nc *nats.Conn
	js nats.JetStreamContext

	subject    string
	ackTimeout time.Duration

	logger  logging.Logger
	metrics *obsprom.Metrics
	tracer  trace.Tracer
}

// Open connects to NATS, ensures the stream exists (idempotent) and returns
// a writable handle.
func Open(cfg Config) (*Handle, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("jetstream: URL is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "QUILL"
	}
	if cfg.Subject == "" {
		cfg.Subject = "quill.segment.default"
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("ledger/jetstream")
	}

	nc, err := nats.Connect(cfg.URL, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}

	// Ensure the stream exists (idempotent).
	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    cfg.MaxAge,
			Replicas:  cfg.Replicas,
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream: ensuring stream %q: %w", cfg.Stream, err)
		}
	}

	return &Handle{
		nc:         nc,
		js:         js,
		subject:    cfg.Subject,
		ackTimeout: cfg.AckTimeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("quill/ledger/jetstream"),
	}, nil
}

// AsyncAppend publishes block and delivers the completion once the stream
// acknowledges (or rejects) it. The callback runs on a goroutine owned by
// the handle.
func (h *Handle) AsyncAppend(block []byte, done ledger.CompletionFunc) {
	start := time.Now()
	_, span := h.tracer.Start(context.Background(), "ledger.append",
		trace.WithAttributes(attribute.Int("block.bytes", len(block))))

	future, err := h.js.PublishMsgAsync(&nats.Msg{Subject: h.subject, Data: block})
	if err != nil {
		span.End()
		h.logger.Warnf("publish rejected locally: %v", err)
		go done(publishResultCode(err), -1)
		return
	}

	go func() {
		defer span.End()
		select {
		case ack := <-future.Ok():
			if h.metrics != nil {
				h.metrics.RecordLedgerAppend(backendName, time.Since(start))
			}
			span.SetAttributes(attribute.Int64("entry.id", int64(ack.Sequence)))
			done(ledger.OK, int64(ack.Sequence))
		case err := <-future.Err():
			h.logger.Warnf("publish failed: %v", err)
			done(publishResultCode(err), -1)
		case <-time.After(h.ackTimeout):
			h.logger.Warnf("publish unacknowledged after %v", h.ackTimeout)
			done(ledger.Timeout, -1)
		}
	}()
}

// Close waits briefly for outstanding publish acknowledgments, then closes
// the connection. Completions still in flight fire before the wait elapses
// or with a Timeout code afterward.
func (h *Handle) Close() error {
	select {
	case <-h.js.PublishAsyncComplete():
	case <-time.After(h.ackTimeout):
		if h.metrics != nil {
			h.metrics.LedgerCloseErrors.WithLabelValues(backendName).Inc()
		}
		h.nc.Close()
		return errors.New("jetstream: close: outstanding publishes unacknowledged")
	}
	h.nc.Close()
	return nil
}

func publishResultCode(err error) ledger.ResultCode {
	switch {
	case errors.Is(err, nats.ErrTimeout):
		return ledger.Timeout
	case errors.Is(err, nats.ErrConnectionClosed):
		return ledger.Closed
	case errors.Is(err, nats.ErrNoStreamResponse):
		return ledger.NotEnoughReplicas
	default:
		return ledger.WriteFailed
	}
}

var _ ledger.Handle = (*Handle)(nil)
