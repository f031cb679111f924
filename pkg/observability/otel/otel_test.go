package otel

import (
	"context"
	"testing"
)

func TestInitializeStdout(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		ServiceName: "quill-test",
		Exporter:    "stdout",
		SampleRate:  1.0,
	}
	if err := Initialize(ctx, cfg); err != nil {
		t.Fatalf("initializing: %v", err)
	}
	t.Cleanup(func() { Shutdown(ctx) })

	if !IsInitialized() {
		t.Fatal("IsInitialized = false after Initialize")
	}
	if err := Initialize(ctx, cfg); err == nil {
		t.Fatal("second Initialize succeeded")
	}

	_, span := Tracer("quill/test").Start(ctx, "probe")
	span.End()

	if err := Shutdown(ctx); err != nil {
		t.Fatalf("shutting down: %v", err)
	}
	if IsInitialized() {
		t.Fatal("IsInitialized = true after Shutdown")
	}
	// Shutdown is idempotent.
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestUnknownExporter(t *testing.T) {
	err := Initialize(context.Background(), Config{Exporter: "xray"})
	if err == nil {
		Shutdown(context.Background())
		t.Fatal("unknown exporter accepted")
	}
}
