package ledger

import (
	"errors"
	"sync"
)

// Memory is an in-process Handle. Blocks are retained in append order and
// completions are delivered from a dedicated goroutine, so callers observe
// the same async callback behavior the replicated backends exhibit.
//
// It is the reference implementation used by the demo binary and by tests
// that do not need a real broker.
type Memory struct {
	mu      sync.Mutex
	entries [][]byte
	nextID  int64
	closed  bool

	pending sync.WaitGroup

	// failNext, when > 0, fails that many upcoming appends with failCode.
	failNext int
	failCode ResultCode

	closeErr error
}

// NewMemory creates an empty in-process ledger handle.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) AsyncAppend(block []byte, done CompletionFunc) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			done(Closed, -1)
		}()
		return
	}

	rc := OK
	var id int64 = -1
	if m.failNext > 0 {
		m.failNext--
		rc = m.failCode
	} else {
		// Copy: the writer reuses nothing, but the contract is ours to keep.
		m.entries = append(m.entries, append([]byte(nil), block...))
		id = m.nextID
		m.nextID++
	}
	m.mu.Unlock()

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		done(rc, id)
	}()
}

// Close waits for all in-flight completions to be delivered, then marks the
// handle closed. Subsequent appends complete with the Closed code.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("ledger: memory handle already closed")
	}
	m.closed = true
	err := m.closeErr
	m.mu.Unlock()

	m.pending.Wait()
	return err
}

// Entries returns a snapshot of every acknowledged block, in append order.
func (m *Memory) Entries() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.entries))
	copy(out, m.entries)
	return out
}

// FailNext makes the next n appends complete with rc instead of being stored.
func (m *Memory) FailNext(n int, rc ResultCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failCode = rc
}

// FailClose makes Close return err. Abort paths must survive a failing
// ledger close.
func (m *Memory) FailClose(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

var _ Handle = (*Memory)(nil)
