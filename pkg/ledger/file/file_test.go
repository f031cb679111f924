package file

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/quillio/quill/pkg/ledger"
)

type completion struct {
	rc      ledger.ResultCode
	entryID int64
}

// collect appends n blocks and waits for every completion.
func collect(t *testing.T, h *Handle, blocks [][]byte) []completion {
	t.Helper()
	results := make([]completion, len(blocks))
	var wg sync.WaitGroup
	for i, block := range blocks {
		i := i
		wg.Add(1)
		h.AsyncAppend(block, func(rc ledger.ResultCode, entryID int64) {
			results[i] = completion{rc, entryID}
			wg.Done()
		})
	}
	wg.Wait()
	return results
}

func TestAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Dir: dir, Segment: "edits-1"})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}

	blocks := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	results := collect(t, h, blocks)
	for i, res := range results {
		if res.rc != ledger.OK {
			t.Fatalf("block %d completed with %v", i, res.rc)
		}
		if res.entryID != int64(i) {
			t.Fatalf("block %d entry id = %d", i, res.entryID)
		}
	}
	if err := h.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	entries, err := ReadSegment(SegmentPath(dir, "edits-1"))
	if err != nil {
		t.Fatalf("reading segment: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if !bytes.Equal(e.Block, blocks[i]) {
			t.Fatalf("entry %d = %q, want %q", i, e.Block, blocks[i])
		}
	}
}

func TestReopenContinuesEntryIDs(t *testing.T) {
	dir := t.TempDir()

	h, err := Open(Config{Dir: dir, Segment: "seg"})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}
	collect(t, h, [][]byte{[]byte("one"), []byte("two")})
	if err := h.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	h2, err := Open(Config{Dir: dir, Segment: "seg"})
	if err != nil {
		t.Fatalf("reopening handle: %v", err)
	}
	results := collect(t, h2, [][]byte{[]byte("three")})
	if results[0].entryID != 2 {
		t.Fatalf("entry id after reopen = %d, want 2", results[0].entryID)
	}
	if err := h2.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	entries, err := ReadSegment(SegmentPath(dir, "seg"))
	if err != nil {
		t.Fatalf("reading segment: %v", err)
	}
	if len(entries) != 3 || entries[2].ID != 2 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestAppendAfterClose(t *testing.T) {
	h, err := Open(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	var got completion
	var wg sync.WaitGroup
	wg.Add(1)
	h.AsyncAppend([]byte("late"), func(rc ledger.ResultCode, entryID int64) {
		got = completion{rc, entryID}
		wg.Done()
	})
	wg.Wait()
	if got.rc != ledger.Closed || got.entryID != -1 {
		t.Fatalf("completion = %+v, want Closed/-1", got)
	}
}

func TestFsyncDurability(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Dir: dir, Segment: "synced", Durability: DurabilityFsync})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}
	results := collect(t, h, [][]byte{[]byte("durable")})
	if results[0].rc != ledger.OK {
		t.Fatalf("completion = %v", results[0].rc)
	}

	// Acknowledged under fsync means visible on disk before Close.
	entries, err := ReadSegment(SegmentPath(dir, "synced"))
	if err != nil {
		t.Fatalf("reading segment: %v", err)
	}
	if len(entries) != 1 || !bytes.Equal(entries[0].Block, []byte("durable")) {
		t.Fatalf("entries = %+v", entries)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
}

func TestTornTailIgnored(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Dir: dir, Segment: "torn"})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}
	collect(t, h, [][]byte{[]byte("whole")})
	if err := h.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	path := SegmentPath(dir, "torn")
	// Simulate a crash mid-write: append half a header.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening for truncation: %v", err)
	}
	if _, err := f.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("writing torn tail: %v", err)
	}
	f.Close()

	entries, err := ReadSegment(path)
	if err != nil {
		t.Fatalf("reading torn segment: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
}

func TestCorruptEntryFails(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Dir: dir, Segment: "corrupt"})
	if err != nil {
		t.Fatalf("opening handle: %v", err)
	}
	collect(t, h, [][]byte{[]byte("pristine-block")})
	if err := h.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	path := SegmentPath(dir, "corrupt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing corrupted file: %v", err)
	}

	if _, err := ReadSegment(path); err == nil {
		t.Fatal("reading corrupted segment succeeded")
	}
}

func TestMissingDir(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("open without dir succeeded")
	}
}
