// Package kafka backs a ledger handle with a Kafka topic. With acks=all the
// partition leader confirms an append only after the in-sync replica set has
// it, which is the quorum acknowledgment the journal relies on; the partition
// offset serves as the entry id.
package kafka

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/quillio/quill/pkg/ledger"
	"github.com/quillio/quill/pkg/logging"
	obsprom "github.com/quillio/quill/pkg/observability/prometheus"
)

const backendName = "kafka"

// Config configures a Kafka-backed ledger handle.
type Config struct {
	// Brokers is the bootstrap broker list.
	Brokers []string

	// Topic receives the journal blocks. One segment maps to one topic (or
	// one partition of it); partitioning beyond that is the deployment's
	// concern.
	Topic string

	// RetryMax bounds produce retries before a block is failed. Default 5.
	RetryMax int

	Logger  logging.Logger
	Metrics *obsprom.Metrics
}

type inflight struct {
	done  ledger.CompletionFunc
	start time.Time
}

// Handle implements ledger.Handle on a sarama AsyncProducer.
type Handle struct {
	producer sarama.AsyncProducer
	topic    string

	logger  logging.Logger
	metrics *obsprom.Metrics

	dispatch sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open connects an async producer requiring acknowledgment from the full
// in-sync replica set.
func Open(cfg Config) (*Handle, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.RetryMax > 0 {
		sc.Producer.Retry.Max = cfg.RetryMax
	} else {
		sc.Producer.Retry.Max = 5
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: producer: %w", err)
	}
	return newWithProducer(producer, cfg), nil
}

// newWithProducer wires the dispatch loops around an existing producer.
// Tests inject a mock producer here.
func newWithProducer(producer sarama.AsyncProducer, cfg Config) *Handle {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("ledger/kafka")
	}

	h := &Handle{
		producer: producer,
		topic:    cfg.Topic,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}

	// Completions arrive on the producer's success and error channels; the
	// callback travels as message metadata.
	h.dispatch.Add(2)
	go func() {
		defer h.dispatch.Done()
		for msg := range producer.Successes() {
			fl := msg.Metadata.(inflight)
			if h.metrics != nil {
				h.metrics.RecordLedgerAppend(backendName, time.Since(fl.start))
			}
			fl.done(ledger.OK, msg.Offset)
		}
	}()
	go func() {
		defer h.dispatch.Done()
		for pe := range producer.Errors() {
			fl := pe.Msg.Metadata.(inflight)
			h.logger.Warnf("produce failed: %v", pe.Err)
			fl.done(produceResultCode(pe.Err), -1)
		}
	}()

	return h
}

func (h *Handle) AsyncAppend(block []byte, done ledger.CompletionFunc) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		go done(ledger.Closed, -1)
		return
	}
	h.mu.Unlock()

	h.producer.Input() <- &sarama.ProducerMessage{
		Topic:    h.topic,
		Value:    sarama.ByteEncoder(block),
		Metadata: inflight{done: done, start: time.Now()},
	}
}

// Close flushes the producer; every in-flight append receives its completion
// before Close returns.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("kafka: handle already closed")
	}
	h.closed = true
	h.mu.Unlock()

	err := h.producer.Close()
	h.dispatch.Wait()
	if err != nil {
		if h.metrics != nil {
			h.metrics.LedgerCloseErrors.WithLabelValues(backendName).Inc()
		}
		return fmt.Errorf("kafka: close: %w", err)
	}
	return nil
}

func produceResultCode(err error) ledger.ResultCode {
	switch {
	case errors.Is(err, sarama.ErrNotEnoughReplicas),
		errors.Is(err, sarama.ErrNotEnoughReplicasAfterAppend):
		return ledger.NotEnoughReplicas
	case errors.Is(err, sarama.ErrRequestTimedOut):
		return ledger.Timeout
	case errors.Is(err, sarama.ErrClosedClient):
		return ledger.Closed
	default:
		return ledger.WriteFailed
	}
}

var _ ledger.Handle = (*Handle)(nil)
