package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillio/quill/pkg/codec"
	"github.com/quillio/quill/pkg/ledger"
	"github.com/quillio/quill/pkg/lock"
	"github.com/quillio/quill/pkg/logging"
	obsprom "github.com/quillio/quill/pkg/observability/prometheus"
)

// DefaultTransmissionThreshold is the buffered-byte size that triggers an
// automatic transmission when no threshold is configured.
const DefaultTransmissionThreshold = 1024

// FailurePolicy decides what a failed transmission does to the segment.
type FailurePolicy int

const (
	// FailureReport leaves failures to the caller: they surface only through
	// completion result codes and metrics, and the segment stays writable.
	FailureReport FailurePolicy = iota
	// FailureFence latches the first failed completion into a sticky error
	// returned by the matching WaitDurable and by Close.
	FailureFence
)

var (
	// ErrRawWrites is returned by WriteRaw; this backend only accepts full
	// logical records, never unframed bytes.
	ErrRawWrites = errors.New("journal: raw writes not supported by ledger-backed segments")
	// ErrSealPending is returned by Seal when the previous seal has not been
	// matched by WaitDurable yet.
	ErrSealPending = errors.New("journal: seal already pending, call WaitDurable first")
	// ErrNoSeal is returned by WaitDurable when no seal is in progress.
	ErrNoSeal = errors.New("journal: no seal in progress")
	// ErrClosed is returned by mutating operations after Close or Abort.
	ErrClosed = errors.New("journal: writer is closed")
)

// Writer states. Transitions: open -> closing -> closed, or open -> aborted.
const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
	stateAborted
)

// Config configures a segment Writer.
type Config struct {
	// TransmissionThreshold is the buffered byte size above which Append
	// transmits automatically. Zero means DefaultTransmissionThreshold.
	TransmissionThreshold int

	// FailurePolicy decides how asynchronous transmission failures are
	// surfaced. Default FailureReport.
	FailurePolicy FailurePolicy

	// Codec serializes records into the accumulation buffer. Default
	// codec.Binary.
	Codec codec.Codec

	// Logger for the writer. Default logging.Default("journal").
	Logger logging.Logger

	// Metrics instruments the write path. Nil disables instrumentation.
	Metrics *obsprom.Metrics
}

// Writer turns a sequence of record appends into durably replicated,
// quorum-acknowledged ledger entries. Records accumulate in a local buffer;
// crossing the transmission threshold, or an explicit Seal, ships the buffer
// as one block. Seal followed by WaitDurable is the durability checkpoint:
// WaitDurable returns only after every block shipped up to that seal has
// been acknowledged, success or failure.
//
// Mutating methods must be invoked from a single goroutine at a time; the
// owning pipeline serializes them. Completion callbacks arrive on backend
// goroutines and may interleave freely with the caller.
type Writer struct {
	cfg    Config
	handle ledger.Handle
	wl     lock.WriteLock

	state atomic.Int32

	// buf is owned by the caller goroutine; it is never touched by
	// completion callbacks.
	buf bytes.Buffer

	// mu guards pending, barrier and fenceErr. Decrementing the count and
	// signaling the barrier happen under one critical section so a waiter
	// can never miss a wakeup.
	mu       sync.Mutex
	pending  int
	barrier  *barrier
	fenceErr error
}

// NewWriter acquires the write lock and returns a Writer for one ledger
// segment. If acquisition fails the lock is not held and no writer exists.
func NewWriter(cfg Config, handle ledger.Handle, wl lock.WriteLock) (*Writer, error) {
	if handle == nil {
		return nil, errors.New("journal: nil ledger handle")
	}
	if wl == nil {
		return nil, errors.New("journal: nil write lock")
	}
	if cfg.TransmissionThreshold <= 0 {
		cfg.TransmissionThreshold = DefaultTransmissionThreshold
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.Binary{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("journal")
	}

	if err := wl.Acquire(); err != nil {
		return nil, fmt.Errorf("journal: acquiring write lock: %w", err)
	}

	return &Writer{cfg: cfg, handle: handle, wl: wl}, nil
}

// Append serializes rec into the accumulation buffer. No network call
// happens unless the buffer crosses the transmission threshold, in which
// case the buffered bytes ship as one block before Append returns.
func (w *Writer) Append(rec *codec.Record) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	if err := w.checkLock(); err != nil {
		return err
	}

	if err := w.cfg.Codec.EncodeRecord(rec, &w.buf); err != nil {
		return fmt.Errorf("journal: encoding record: %w", err)
	}

	if w.buf.Len() > w.cfg.TransmissionThreshold {
		w.transmit()
	}
	return nil
}

// Seal forces any buffered bytes onto the network and arms the durability
// barrier with the current pending-append snapshot. Exactly one WaitDurable
// must follow before the next Seal.
func (w *Writer) Seal() error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	if err := w.checkLock(); err != nil {
		return err
	}
	return w.seal()
}

func (w *Writer) seal() error {
	w.transmit()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.barrier != nil {
		return ErrSealPending
	}
	w.barrier = newBarrier(w.pending)
	return nil
}

// WaitDurable blocks until every transmission issued up to the matching Seal
// has been acknowledged by the ledger, success or failure. The barrier is
// discarded on return; after a context cancellation the caller must Seal
// again before retrying.
func (w *Writer) WaitDurable(ctx context.Context) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	if err := w.checkLock(); err != nil {
		return err
	}
	return w.waitDurable(ctx)
}

func (w *Writer) waitDurable(ctx context.Context) error {
	w.mu.Lock()
	b := w.barrier
	w.mu.Unlock()
	if b == nil {
		return ErrNoSeal
	}

	start := time.Now()
	err := b.wait(ctx)

	w.mu.Lock()
	w.barrier = nil
	fenceErr := w.fenceErr
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordBarrierWait(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("journal: interrupted waiting for durability: %w", err)
	}
	if w.cfg.FailurePolicy == FailureFence && fenceErr != nil {
		return fenceErr
	}
	return nil
}

// Close seals, waits for durability, then synchronously closes the ledger
// handle. The write lock is NOT released: on the happy path lock lifetime
// belongs to the segment-handoff protocol, not to this writer.
func (w *Writer) Close() error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	if err := w.checkLock(); err != nil {
		return err
	}
	w.state.Store(stateClosing)

	var errs []error
	if err := w.seal(); err != nil {
		errs = append(errs, err)
	} else if err := w.waitDurable(context.Background()); err != nil {
		errs = append(errs, err)
	}

	if err := w.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: closing ledger: %w", err))
	}
	w.state.Store(stateClosed)
	return errors.Join(errs...)
}

// Abort closes the ledger handle without flushing or waiting, discarding
// buffered and unacknowledged data, then releases the write lock. The lock
// is released even when the ledger close fails; stranding it would deadlock
// the next writer.
func (w *Writer) Abort() error {
	if st := w.state.Load(); st == stateClosed || st == stateAborted {
		return ErrClosed
	}

	var errs []error
	if err := w.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: closing ledger on abort: %w", err))
		w.cfg.Logger.Errorf("ledger close failed during abort: %v", err)
	}

	if err := w.wl.Release(); err != nil {
		errs = append(errs, fmt.Errorf("journal: releasing write lock: %w", err))
	}
	w.state.Store(stateAborted)
	return errors.Join(errs...)
}

// WriteRaw always fails: ledger-backed segments require complete logical
// records so every transmitted block stays independently decodable.
func (w *Writer) WriteRaw([]byte) error {
	return ErrRawWrites
}

// Pending reports appends shipped to the ledger but not yet acknowledged.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// BufferedBytes reports bytes accumulated but not yet transmitted. Only
// meaningful from the caller goroutine.
func (w *Writer) BufferedBytes() int {
	return w.buf.Len()
}

// State reports the writer lifecycle as a string for status surfaces.
func (w *Writer) State() string {
	switch w.state.Load() {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	case stateAborted:
		return "aborted"
	}
	return "unknown"
}

// transmit detaches the buffered bytes into an immutable block and issues a
// single asynchronous append. It runs on the caller goroutine only, from
// Append (threshold) and Seal (forced); the single-writer contract keeps it
// from ever racing with itself. No-op when the buffer is empty.
func (w *Writer) transmit() {
	if w.buf.Len() == 0 {
		return
	}

	block := make([]byte, w.buf.Len())
	copy(block, w.buf.Bytes())
	w.buf.Reset()

	// Count the transmission before handing it to the backend: the
	// completion may fire before AsyncAppend returns.
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordTransmission(len(block))
	}
	w.cfg.Logger.Debugf("transmitting block of %d bytes", len(block))

	w.handle.AsyncAppend(block, w.onAppendComplete)
}

// onAppendComplete is the ledger backend's completion callback. It may run
// on any goroutine, concurrently with other completions and with the caller,
// and may still arrive after Abort. Count decrement and barrier signal share
// one critical section: never one without the other.
func (w *Writer) onAppendComplete(rc ledger.ResultCode, entryID int64) {
	w.mu.Lock()
	if w.pending == 0 {
		w.mu.Unlock()
		w.cfg.Logger.Errorf("spurious completion (rc=%v entry=%d) with no pending appends", rc, entryID)
		return
	}
	w.pending--
	if w.barrier != nil {
		w.barrier.signal()
	}
	if rc != ledger.OK && w.fenceErr == nil {
		w.fenceErr = fmt.Errorf("journal: transmission failed: %w", rc.Err())
	}
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordCompletion(rc.String())
	}
	if rc != ledger.OK {
		w.cfg.Logger.Warnf("append completion %v for entry %d", rc, entryID)
	}
}

func (w *Writer) requireOpen() error {
	if w.state.Load() != stateOpen {
		return ErrClosed
	}
	return nil
}

func (w *Writer) checkLock() error {
	if err := w.wl.CheckHeld(); err != nil {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.LockViolationsTotal.Inc()
		}
		return fmt.Errorf("journal: write lock violation: %w", err)
	}
	return nil
}
