package journal

import (
	"context"
	"sync"
)

// barrier is a one-shot countdown: created sized to the pending-append
// snapshot at seal time, signaled once per completion in any order, and
// discarded after the matching wait. Completion order does not matter; the
// waiter unblocks when the count reaches zero.
type barrier struct {
	mu        sync.Mutex
	remaining int
	done      chan struct{}
}

func newBarrier(n int) *barrier {
	b := &barrier{remaining: n, done: make(chan struct{})}
	if n <= 0 {
		close(b.done)
	}
	return b
}

// signal records one completion. Extra signals after the count reaches zero
// are ignored; they belong to transmissions issued after the seal snapshot.
func (b *barrier) signal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining == 0 {
		return
	}
	b.remaining--
	if b.remaining == 0 {
		close(b.done)
	}
}

// wait blocks until every counted completion arrived or ctx is done.
func (b *barrier) wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		// Re-check: the barrier may have been released concurrently.
		select {
		case <-b.done:
			return nil
		default:
			return ctx.Err()
		}
	}
}
