// Package file implements ledger.Handle on a local append-only segment
// file. It offers no replication; it exists for development, tests and
// single-node deployments where the durability barrier should still hold
// against process crashes via fsync.
package file

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quillio/quill/pkg/ledger"
	"github.com/quillio/quill/pkg/logging"
	obsprom "github.com/quillio/quill/pkg/observability/prometheus"
)

// Durability controls when an append completion fires.
type Durability int

const (
	// DurabilityBuffer acknowledges once the block is in the OS write path.
	DurabilityBuffer Durability = iota
	// DurabilityFsync acknowledges only after fsync.
	DurabilityFsync
)

// Config configures a file-backed segment.
type Config struct {
	// Dir holds segment files, one per segment name.
	Dir string

	// Segment names the file, "<segment>.qseg". Default "segment".
	Segment string

	// Durability selects the acknowledgment point. Default DurabilityBuffer.
	Durability Durability

	// QueueDepth bounds blocks waiting for the flush goroutine. Appends
	// beyond it fail with a WriteFailed completion. Default 1024.
	QueueDepth int

	Logger  logging.Logger
	Metrics *obsprom.Metrics
}

const backendName = "file"

type appendReq struct {
	entryID int64
	block   []byte
	done    ledger.CompletionFunc
	start   time.Time
}

// Handle implements ledger.Handle on one segment file. A single flush
// goroutine serializes writes, so completions fire in append order.
type Handle struct {
	f   *os.File
	buf *bufio.Writer

	durability Durability
	logger     logging.Logger
	metrics    *obsprom.Metrics

	queue   chan appendReq
	flushed sync.WaitGroup

	mu     sync.Mutex
	nextID int64
	closed bool
}

// Entry framing: entry id, payload length, payload checksum, then the block
// bytes. Little endian throughout, matching the record framing inside blocks.
const entryHeaderSize = 8 + 4 + 4

// Open creates or resumes the segment file and starts the flush goroutine.
// Resuming scans existing entries so new entry ids continue the sequence.
func Open(cfg Config) (*Handle, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("file: Dir is required")
	}
	if cfg.Segment == "" {
		cfg.Segment = "segment"
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("ledger/file")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: creating %s: %w", cfg.Dir, err)
	}

	path := SegmentPath(cfg.Dir, cfg.Segment)
	nextID, err := scanNextEntryID(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file: opening %s: %w", path, err)
	}

	h := &Handle{
		f:          f,
		buf:        bufio.NewWriterSize(f, 256<<10),
		durability: cfg.Durability,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		queue:      make(chan appendReq, cfg.QueueDepth),
		nextID:     nextID,
	}
	h.flushed.Add(1)
	go h.flushLoop()
	return h, nil
}

// SegmentPath returns the file path for a named segment in dir.
func SegmentPath(dir, segment string) string {
	return filepath.Join(dir, segment+".qseg")
}

// AsyncAppend queues the block for the flush goroutine. The completion
// fires from that goroutine once the block is written (and synced, under
// DurabilityFsync).
func (h *Handle) AsyncAppend(block []byte, done ledger.CompletionFunc) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		done(ledger.Closed, -1)
		return
	}
	id := h.nextID
	h.nextID++
	h.mu.Unlock()

	select {
	case h.queue <- appendReq{entryID: id, block: block, done: done, start: time.Now()}:
	default:
		h.logger.Warnf("append queue full, rejecting entry %d", id)
		done(ledger.WriteFailed, -1)
	}
}

func (h *Handle) flushLoop() {
	defer h.flushed.Done()
	for req := range h.queue {
		rc := h.writeEntry(req.entryID, req.block)
		id := req.entryID
		if rc != ledger.OK {
			id = -1
		} else if h.metrics != nil {
			h.metrics.RecordLedgerAppend(backendName, time.Since(req.start))
		}
		req.done(rc, id)
	}
}

func (h *Handle) writeEntry(entryID int64, block []byte) ledger.ResultCode {
	var header [entryHeaderSize]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(entryID))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(block)))
	binary.LittleEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(block))

	if _, err := h.buf.Write(header[:]); err != nil {
		h.logger.Errorf("writing entry %d header: %v", entryID, err)
		return ledger.WriteFailed
	}
	if _, err := h.buf.Write(block); err != nil {
		h.logger.Errorf("writing entry %d: %v", entryID, err)
		return ledger.WriteFailed
	}
	if err := h.buf.Flush(); err != nil {
		h.logger.Errorf("flushing entry %d: %v", entryID, err)
		return ledger.WriteFailed
	}
	if h.durability == DurabilityFsync {
		if err := h.f.Sync(); err != nil {
			h.logger.Errorf("syncing entry %d: %v", entryID, err)
			return ledger.WriteFailed
		}
	}
	return ledger.OK
}

// Close drains queued appends, flushes, syncs and closes the file.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.queue)
	h.flushed.Wait()

	var errs []error
	if err := h.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := h.f.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := h.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		if h.metrics != nil {
			h.metrics.LedgerCloseErrors.WithLabelValues(backendName).Inc()
		}
		return fmt.Errorf("file: closing segment: %w", err)
	}
	return nil
}

// Entry is one block read back from a segment file.
type Entry struct {
	ID    int64
	Block []byte
}

// ReadSegment returns every entry in a segment file in append order,
// verifying checksums. A torn tail (truncated final entry) ends the scan
// without error; a corrupt checksum fails it.
func ReadSegment(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file: opening %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var entries []Entry
	for {
		var header [entryHeaderSize]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, nil
			}
			return nil, err
		}
		id := int64(binary.LittleEndian.Uint64(header[0:8]))
		size := binary.LittleEndian.Uint32(header[8:12])
		sum := binary.LittleEndian.Uint32(header[12:16])

		block := make([]byte, size)
		if _, err := io.ReadFull(r, block); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, nil
			}
			return nil, err
		}
		if crc32.ChecksumIEEE(block) != sum {
			return nil, fmt.Errorf("file: checksum mismatch at entry %d in %s", id, path)
		}
		entries = append(entries, Entry{ID: id, Block: block})
	}
}

// scanNextEntryID reads an existing segment file to continue its id
// sequence. A missing file starts at zero.
func scanNextEntryID(path string) (int64, error) {
	entries, err := ReadSegment(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].ID + 1, nil
}
