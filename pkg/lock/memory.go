package lock

import (
	"sync"

	"github.com/google/uuid"
)

// Registry hands out in-process write locks keyed by segment name. It serves
// single-process deployments and tests; cross-process exclusivity needs the
// dblock or pglock backends.
type Registry struct {
	mu     sync.Mutex
	owners map[string]string // segment -> owner token
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]string)}
}

// WriteLock returns the lock handle for the named segment. Each handle gets
// its own owner token, so two handles for the same segment contend.
func (r *Registry) WriteLock(segment string) WriteLock {
	return &memoryLock{
		registry: r,
		segment:  segment,
		token:    uuid.New().String(),
	}
}

type memoryLock struct {
	registry *Registry
	segment  string
	token    string
}

func (l *memoryLock) Acquire() error {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, taken := r.owners[l.segment]
	if taken && owner != l.token {
		return ErrHeldElsewhere
	}
	r.owners[l.segment] = l.token
	return nil
}

func (l *memoryLock) CheckHeld() error {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[l.segment] != l.token {
		return ErrNotHeld
	}
	return nil
}

func (l *memoryLock) Release() error {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[l.segment] != l.token {
		return ErrNotHeld
	}
	delete(r.owners, l.segment)
	return nil
}

var _ WriteLock = (*memoryLock)(nil)
