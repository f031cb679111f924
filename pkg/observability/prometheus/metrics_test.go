package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTransmission(128)
	m.RecordTransmission(256)
	m.RecordCompletion("OK")
	m.RecordBarrierWait(5 * time.Millisecond)
	m.LockViolationsTotal.Inc()
	m.RecordLedgerAppend("memory", time.Millisecond)

	if got := testutil.ToFloat64(m.TransmissionsTotal); got != 2 {
		t.Errorf("transmissions total = %v, want 2", got)
	}
	// Two increments, one completion: one append still pending.
	if got := testutil.ToFloat64(m.PendingAppends); got != 1 {
		t.Errorf("pending appends = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CompletionsTotal.WithLabelValues("OK")); got != 1 {
		t.Errorf("completions OK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LockViolationsTotal); got != 1 {
		t.Errorf("lock violations = %v, want 1", got)
	}
}

func TestGetMetrics_Singleton(t *testing.T) {
	a := GetMetrics()
	b := GetMetrics()
	if a != b {
		t.Fatal("GetMetrics must return the same instance")
	}
}
