// Package dblock implements the segment write lock as a lease row in a SQL
// database. It works with any database/sql driver; the sqlite3 and postgres
// dialects are exercised by the quill deployments.
package dblock

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillio/quill/pkg/lock"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS quill_write_locks (
	segment     TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	acquired_at TIMESTAMP NOT NULL
)`

// Config configures a lock store.
type Config struct {
	// Dialect selects SQL placeholder syntax. Default sqlite.
	Dialect Dialect

	// LeaseTTL lets a new writer take over a lease that has not been
	// refreshed for this long. Zero disables takeover; a crashed writer then
	// needs manual cleanup.
	LeaseTTL time.Duration

	// CheckCache caches a successful CheckHeld for this long, so the
	// per-append lock check does not become a per-append database roundtrip.
	// Default 1s.
	CheckCache time.Duration
}

// Store hands out write locks backed by lease rows in db.
type Store struct {
	db  *sql.DB
	cfg Config
}

// NewStore prepares the lease table and returns a lock store.
func NewStore(db *sql.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("dblock: nil db")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectSQLite
	}
	if cfg.CheckCache <= 0 {
		cfg.CheckCache = time.Second
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("dblock: ensuring lease table: %w", err)
	}
	return &Store{db: db, cfg: cfg}, nil
}

// WriteLock returns a lock handle for the named segment with a fresh owner
// token.
func (s *Store) WriteLock(segment string) lock.WriteLock {
	return &leaseLock{
		store:   s,
		segment: segment,
		token:   uuid.New().String(),
	}
}

type leaseLock struct {
	store   *Store
	segment string
	token   string

	lastChecked time.Time
}

func (l *leaseLock) Acquire() error {
	s := l.store
	now := time.Now().UTC()

	_, err := s.db.Exec(
		s.rebind("INSERT INTO quill_write_locks (segment, owner, acquired_at) VALUES (?, ?, ?)"),
		l.segment, l.token, now,
	)
	if err == nil {
		l.lastChecked = now
		return nil
	}

	// The row exists. Either we already own it, or the lease is stale
	// enough to take over, or someone else holds it.
	var owner string
	var acquiredAt time.Time
	row := s.db.QueryRow(
		s.rebind("SELECT owner, acquired_at FROM quill_write_locks WHERE segment = ?"),
		l.segment,
	)
	if err := row.Scan(&owner, &acquiredAt); err != nil {
		return fmt.Errorf("dblock: reading lease: %w", err)
	}
	if owner == l.token {
		l.lastChecked = now
		return nil
	}
	if s.cfg.LeaseTTL > 0 && now.Sub(acquiredAt) > s.cfg.LeaseTTL {
		res, err := s.db.Exec(
			s.rebind("UPDATE quill_write_locks SET owner = ?, acquired_at = ? WHERE segment = ? AND owner = ?"),
			l.token, now, l.segment, owner,
		)
		if err != nil {
			return fmt.Errorf("dblock: taking over stale lease: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			l.lastChecked = now
			return nil
		}
	}
	return lock.ErrHeldElsewhere
}

func (l *leaseLock) CheckHeld() error {
	now := time.Now()
	if !l.lastChecked.IsZero() && now.Sub(l.lastChecked) < l.store.cfg.CheckCache {
		return nil
	}

	// Refresh the lease timestamp while verifying ownership.
	res, err := l.store.db.Exec(
		l.store.rebind("UPDATE quill_write_locks SET acquired_at = ? WHERE segment = ? AND owner = ?"),
		now.UTC(), l.segment, l.token,
	)
	if err != nil {
		return fmt.Errorf("dblock: refreshing lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		l.lastChecked = time.Time{}
		return lock.ErrNotHeld
	}
	l.lastChecked = now
	return nil
}

func (l *leaseLock) Release() error {
	res, err := l.store.db.Exec(
		l.store.rebind("DELETE FROM quill_write_locks WHERE segment = ? AND owner = ?"),
		l.segment, l.token,
	)
	if err != nil {
		return fmt.Errorf("dblock: releasing lease: %w", err)
	}
	l.lastChecked = time.Time{}
	if n, _ := res.RowsAffected(); n != 1 {
		return lock.ErrNotHeld
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.cfg.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ lock.WriteLock = (*leaseLock)(nil)
