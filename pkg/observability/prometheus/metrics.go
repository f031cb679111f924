package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the registry the status endpoint exposes.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer stamps every metric with the service label.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "quill"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds the instruments for the journal write path and its
// collaborators.
type Metrics struct {
	// Journal writer metrics
	TransmissionsTotal  prometheus.Counter
	TransmittedBytes    prometheus.Histogram
	PendingAppends      prometheus.Gauge
	BarrierWaitDuration prometheus.Histogram
	LockViolationsTotal prometheus.Counter
	CompletionsTotal    *prometheus.CounterVec

	// Ledger backend metrics
	LedgerAppendDuration *prometheus.HistogramVec
	LedgerCloseErrors    *prometheus.CounterVec
}

// GetMetrics returns the process-wide metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a metrics collection registered with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		TransmissionsTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "quill_journal_transmissions_total",
				Help: "Total number of batched blocks handed to the ledger",
			},
		),
		TransmittedBytes: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quill_journal_transmitted_bytes",
				Help:    "Size distribution of transmitted blocks",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B to ~1MB
			},
		),
		PendingAppends: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_journal_pending_appends",
				Help: "Appends sent to the ledger but not yet acknowledged",
			},
		),
		BarrierWaitDuration: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quill_journal_barrier_wait_seconds",
				Help:    "Time spent blocked in WaitDurable",
				Buckets: prometheus.DefBuckets,
			},
		),
		LockViolationsTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "quill_journal_lock_violations_total",
				Help: "Mutating calls rejected because the write lock was not held",
			},
		),
		CompletionsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_journal_completions_total",
				Help: "Append completion callbacks by result code",
			},
			[]string{"result"},
		),

		LedgerAppendDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_ledger_append_duration_seconds",
				Help:    "Latency from async append to quorum acknowledgment",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		LedgerCloseErrors: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_ledger_close_errors_total",
				Help: "Ledger handle close failures",
			},
			[]string{"backend"},
		),
	}
}

// RecordTransmission records one block leaving the process.
func (m *Metrics) RecordTransmission(bytes int) {
	m.TransmissionsTotal.Inc()
	m.TransmittedBytes.Observe(float64(bytes))
	m.PendingAppends.Inc()
}

// RecordCompletion records one completion callback.
func (m *Metrics) RecordCompletion(result string) {
	m.PendingAppends.Dec()
	m.CompletionsTotal.WithLabelValues(result).Inc()
}

// RecordBarrierWait records a WaitDurable blocking interval.
func (m *Metrics) RecordBarrierWait(d time.Duration) {
	m.BarrierWaitDuration.Observe(d.Seconds())
}

// RecordLedgerAppend records backend append latency.
func (m *Metrics) RecordLedgerAppend(backend string, d time.Duration) {
	m.LedgerAppendDuration.WithLabelValues(backend).Observe(d.Seconds())
}
