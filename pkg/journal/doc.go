// Package journal implements the write path of a quorum-replicated
// write-ahead log. A Writer packs multiple complete edit records into a
// single ledger entry before it goes over the network, so every transmitted
// block can be read back as a self-contained edit sequence. Recovery readers
// only need the last entry, never the whole segment.
//
// The writer is driven by one caller goroutine (the journal pipeline
// serializes Append/Seal/WaitDurable/Close/Abort); completion callbacks from
// the ledger backend arrive on arbitrary goroutines and are the only other
// actor touching writer state.
package journal
