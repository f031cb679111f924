// Package registry keeps local bookkeeping about journal segments: which
// ledger holds each one, the transaction range it covers, and whether it is
// still being written. Recovery tooling reads it to find the segment to
// replay; the registry itself performs no recovery.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SegmentState is the lifecycle of one segment record.
type SegmentState string

const (
	StateInProgress SegmentState = "in_progress"
	StateFinalized  SegmentState = "finalized"
	StateAborted    SegmentState = "aborted"
)

// ErrNotFound is returned when a segment record does not exist.
var ErrNotFound = errors.New("registry: segment not found")

// Segment is one registry row.
type Segment struct {
	Name      string
	LedgerRef string // backend-specific locator, e.g. stream or topic name
	State     SegmentState
	FirstTxID uint64
	LastTxID  uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS quill_segments (
	name       TEXT PRIMARY KEY,
	ledger_ref TEXT NOT NULL,
	state      TEXT NOT NULL,
	first_txid INTEGER NOT NULL,
	last_txid  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Registry stores segment records in a SQL database.
type Registry struct {
	db       *sql.DB
	postgres bool
}

// Open prepares the segment table. Set postgres for $n placeholder syntax.
func Open(db *sql.DB, postgres bool) (*Registry, error) {
	if db == nil {
		return nil, errors.New("registry: nil db")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("registry: ensuring segment table: %w", err)
	}
	return &Registry{db: db, postgres: postgres}, nil
}

// Create records a new in-progress segment starting at firstTxID.
func (r *Registry) Create(name, ledgerRef string, firstTxID uint64) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(
		r.rebind(`INSERT INTO quill_segments (name, ledger_ref, state, first_txid, last_txid, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)`),
		name, ledgerRef, string(StateInProgress), int64(firstTxID), now, now,
	)
	if err != nil {
		return fmt.Errorf("registry: creating segment %q: %w", name, err)
	}
	return nil
}

// Finalize marks a segment durably complete up to lastTxID.
func (r *Registry) Finalize(name string, lastTxID uint64) error {
	return r.transition(name, StateFinalized, int64(lastTxID))
}

// MarkAborted records that a segment was abandoned; its content is suspect.
func (r *Registry) MarkAborted(name string) error {
	return r.transition(name, StateAborted, -1)
}

func (r *Registry) transition(name string, state SegmentState, lastTxID int64) error {
	q := "UPDATE quill_segments SET state = ?, updated_at = ? WHERE name = ?"
	args := []any{string(state), time.Now().UTC(), name}
	if lastTxID >= 0 {
		q = "UPDATE quill_segments SET state = ?, last_txid = ?, updated_at = ? WHERE name = ?"
		args = []any{string(state), lastTxID, time.Now().UTC(), name}
	}
	res, err := r.db.Exec(r.rebind(q), args...)
	if err != nil {
		return fmt.Errorf("registry: updating segment %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one segment record.
func (r *Registry) Get(name string) (*Segment, error) {
	row := r.db.QueryRow(
		r.rebind(`SELECT name, ledger_ref, state, first_txid, last_txid, created_at, updated_at
			FROM quill_segments WHERE name = ?`),
		name,
	)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return seg, err
}

// List returns every segment record ordered by first transaction id.
func (r *Registry) List() ([]*Segment, error) {
	rows, err := r.db.Query(
		`SELECT name, ledger_ref, state, first_txid, last_txid, created_at, updated_at
			FROM quill_segments ORDER BY first_txid`,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: listing segments: %w", err)
	}
	defer rows.Close()

	var segs []*Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSegment(row scanner) (*Segment, error) {
	var seg Segment
	var state string
	var first, last int64
	if err := row.Scan(&seg.Name, &seg.LedgerRef, &state, &first, &last, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
		return nil, err
	}
	seg.State = SegmentState(state)
	seg.FirstTxID = uint64(first)
	seg.LastTxID = uint64(last)
	return &seg, nil
}

func (r *Registry) rebind(query string) string {
	if !r.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
