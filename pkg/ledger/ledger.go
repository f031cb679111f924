package ledger

import "errors"

// ResultCode reports the outcome of one asynchronous append. Codes travel on
// the completion callback, never as an error on the appending goroutine.
type ResultCode int

const (
	// OK means the block was acknowledged by a write quorum.
	OK ResultCode = iota
	// WriteFailed means the backend rejected or lost the block.
	WriteFailed
	// NotEnoughReplicas means too few replicas acknowledged in time.
	NotEnoughReplicas
	// Closed means the handle was closed before the block was acknowledged.
	Closed
	// Timeout means the backend did not answer within its deadline.
	Timeout
)

func (rc ResultCode) String() string {
	switch rc {
	case OK:
		return "OK"
	case WriteFailed:
		return "WRITE_FAILED"
	case NotEnoughReplicas:
		return "NOT_ENOUGH_REPLICAS"
	case Closed:
		return "CLOSED"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Err maps a non-OK code to an error, nil for OK.
func (rc ResultCode) Err() error {
	if rc == OK {
		return nil
	}
	return errors.New("ledger: append " + rc.String())
}

// CompletionFunc is invoked exactly once per accepted append, on an
// arbitrary goroutine owned by the backend. entryID is the sequence number
// the backend assigned to the block; it is meaningful only when rc is OK.
type CompletionFunc func(rc ResultCode, entryID int64)

// Handle is one writable ledger: a replicated, quorum-acknowledged sequence
// of byte blocks. AsyncAppend never blocks on replication; Close is
// synchronous and idempotent from the caller's point of view.
//
// Contract: a backend must deliver the completion for every accepted append,
// exactly once, even for appends outstanding when Close is called.
type Handle interface {
	AsyncAppend(block []byte, done CompletionFunc)
	Close() error
}
