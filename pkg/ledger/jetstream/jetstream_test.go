package jetstream

import (
	"bytes"
	"sync"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/quillio/quill/pkg/ledger"
	"github.com/quillio/quill/pkg/logging"
)

func runTestJetStreamServer(t *testing.T) *natssrv.Server {
	t.Helper()

	opts := &natssrv.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	s, err := natssrv.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(func() {
		s.Shutdown()
	})
	return s
}

func openTestHandle(t *testing.T, url string) *Handle {
	t.Helper()
	h, err := Open(Config{
		URL:        url,
		Stream:     "QUILL_TEST",
		Subject:    "quill.test.segment",
		AckTimeout: 5 * time.Second,
		Logger:     logging.Nop(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h
}

func TestHandle_AppendAcknowledgesWithSequence(t *testing.T) {
	s := runTestJetStreamServer(t)
	h := openTestHandle(t, s.ClientURL())

	type completion struct {
		rc ledger.ResultCode
		id int64
	}
	results := make(chan completion, 3)

	for i := 0; i < 3; i++ {
		h.AsyncAppend([]byte{byte('a' + i)}, func(rc ledger.ResultCode, id int64) {
			results <- completion{rc, id}
		})
	}

	seen := map[int64]bool{}
	for i := 0; i < 3; i++ {
		select {
		case c := <-results:
			if c.rc != ledger.OK {
				t.Fatalf("completion %d: rc = %v", i, c.rc)
			}
			if c.id <= 0 {
				t.Fatalf("completion %d: sequence = %d", i, c.id)
			}
			if seen[c.id] {
				t.Fatalf("duplicate sequence %d", c.id)
			}
			seen[c.id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("completion never arrived")
		}
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHandle_BlocksReadableFromStream(t *testing.T) {
	s := runTestJetStreamServer(t)
	h := openTestHandle(t, s.ClientURL())

	var wg sync.WaitGroup
	var entryID int64
	wg.Add(1)
	h.AsyncAppend([]byte("journal block"), func(rc ledger.ResultCode, id int64) {
		defer wg.Done()
		if rc != ledger.OK {
			t.Errorf("append rc = %v", rc)
		}
		entryID = id
	})
	wg.Wait()

	// Read the entry back through a plain JetStream client.
	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	msg, err := js.GetMsg("QUILL_TEST", uint64(entryID))
	if err != nil {
		t.Fatalf("GetMsg(%d): %v", entryID, err)
	}
	if !bytes.Equal(msg.Data, []byte("journal block")) {
		t.Fatalf("stored block = %q", msg.Data)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_RequiresURL(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for missing URL")
	}
}

func TestOpen_IdempotentStreamCreation(t *testing.T) {
	s := runTestJetStreamServer(t)

	h1 := openTestHandle(t, s.ClientURL())
	if err := h1.Close(); err != nil {
		t.Fatalf("close first handle: %v", err)
	}

	// Second open must find the existing stream instead of failing.
	h2 := openTestHandle(t, s.ClientURL())
	if err := h2.Close(); err != nil {
		t.Fatalf("close second handle: %v", err)
	}
}
