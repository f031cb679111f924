package lock

import "testing"

func TestRegistry_Exclusivity(t *testing.T) {
	r := NewRegistry()

	a := r.WriteLock("segment-1")
	b := r.WriteLock("segment-1")

	if err := a.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := b.Acquire(); err != ErrHeldElsewhere {
		t.Fatalf("expected ErrHeldElsewhere, got %v", err)
	}

	if err := a.CheckHeld(); err != nil {
		t.Fatalf("owner CheckHeld: %v", err)
	}
	if err := b.CheckHeld(); err != ErrNotHeld {
		t.Fatalf("non-owner CheckHeld: expected ErrNotHeld, got %v", err)
	}
}

func TestRegistry_ReleaseHandsOff(t *testing.T) {
	r := NewRegistry()

	a := r.WriteLock("seg")
	b := r.WriteLock("seg")

	if err := a.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := a.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := b.Acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	// The released handle no longer owns anything.
	if err := a.CheckHeld(); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld after release, got %v", err)
	}
	if err := a.Release(); err != ErrNotHeld {
		t.Fatalf("double release: expected ErrNotHeld, got %v", err)
	}
}

func TestRegistry_IndependentSegments(t *testing.T) {
	r := NewRegistry()

	a := r.WriteLock("seg-a")
	b := r.WriteLock("seg-b")

	if err := a.Acquire(); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if err := b.Acquire(); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
}

func TestRegistry_ReacquireByOwnerIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.WriteLock("seg")
	if err := a.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := a.Acquire(); err != nil {
		t.Fatalf("owner reacquire: %v", err)
	}
}
