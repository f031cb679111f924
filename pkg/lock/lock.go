package lock

import "errors"

var (
	// ErrHeldElsewhere is returned by Acquire when another writer owns the lock.
	ErrHeldElsewhere = errors.New("lock: held by another writer")
	// ErrNotHeld is returned by CheckHeld (and Release) when the caller does
	// not currently own the lock. Seeing it on a journal operation means the
	// caller broke the single-writer protocol; it is not retryable.
	ErrNotHeld = errors.New("lock: not held")
)

// WriteLock is the exclusivity token guarding one journal segment. The
// journal writer acquires it once at construction, checks it before every
// mutating operation, and releases it only on the abandonment path. A
// released lock must never be reused by the same writer instance.
type WriteLock interface {
	// Acquire takes the lock; fails with ErrHeldElsewhere if another owner
	// holds it.
	Acquire() error
	// CheckHeld verifies the caller still owns the lock without reacquiring.
	CheckHeld() error
	// Release gives the lock up. Idempotency is not promised; callers release
	// exactly once.
	Release() error
}
