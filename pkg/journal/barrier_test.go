package journal

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestBarrier_ZeroCountReleasesImmediately(t *testing.T) {
	b := newBarrier(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.wait(ctx); err != nil {
		t.Fatalf("wait on empty barrier: %v", err)
	}
}

func TestBarrier_WaitsForAllSignals(t *testing.T) {
	b := newBarrier(3)

	released := make(chan error, 1)
	go func() { released <- b.wait(context.Background()) }()

	b.signal()
	b.signal()
	select {
	case err := <-released:
		t.Fatalf("released after 2 of 3 signals (err=%v)", err)
	case <-time.After(20 * time.Millisecond):
	}

	b.signal()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("barrier never released")
	}
}

func TestBarrier_OrderIndependent(t *testing.T) {
	const n = 16
	b := newBarrier(n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			b.signal()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	wg.Wait()
}

func TestBarrier_ExtraSignalsIgnored(t *testing.T) {
	b := newBarrier(1)
	b.signal()
	b.signal() // belongs to a later transmission; must not panic
	if err := b.wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestBarrier_ContextCancellation(t *testing.T) {
	b := newBarrier(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.wait(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
