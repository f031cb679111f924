// Package pglock implements the segment write lock with Postgres session
// advisory locks. The lock lives on a dedicated pooled connection; losing
// the connection loses the lock, which is exactly the fencing a crashed
// writer needs.
package pglock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillio/quill/pkg/lock"
)

// Locker hands out advisory write locks from a pgx pool.
type Locker struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller keeps pool ownership.
func New(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// WriteLock returns the lock handle for the named segment. The advisory key
// is a stable hash of the segment name.
func (lk *Locker) WriteLock(segment string) lock.WriteLock {
	return &advisoryLock{
		pool:    lk.pool,
		segment: segment,
		key:     advisoryKey(segment),
	}
}

type advisoryLock struct {
	pool    *pgxpool.Pool
	segment string
	key     int64

	mu   sync.Mutex
	conn *pgxpool.Conn
	held bool
}

func (l *advisoryLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil
	}

	ctx := context.Background()
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pglock: acquiring connection: %w", err)
	}

	var got bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&got); err != nil {
		conn.Release()
		return fmt.Errorf("pglock: advisory lock query: %w", err)
	}
	if !got {
		conn.Release()
		return lock.ErrHeldElsewhere
	}

	l.conn = conn
	l.held = true
	return nil
}

func (l *advisoryLock) CheckHeld() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return lock.ErrNotHeld
	}
	// The session owns the lock only while its connection lives.
	if err := l.conn.Ping(context.Background()); err != nil {
		l.dropLocked()
		return lock.ErrNotHeld
	}
	return nil
}

func (l *advisoryLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return lock.ErrNotHeld
	}
	_, err := l.conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
	l.dropLocked()
	if err != nil {
		return fmt.Errorf("pglock: advisory unlock: %w", err)
	}
	return nil
}

func (l *advisoryLock) dropLocked() {
	l.conn.Release()
	l.conn = nil
	l.held = false
}

func advisoryKey(segment string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(segment))
	return int64(h.Sum64())
}

var _ lock.WriteLock = (*advisoryLock)(nil)
