package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_DoesNotPanic(t *testing.T) {
	logger := New("test", LevelDebug)
	if logger == nil {
		t.Fatal("New() should not return nil")
	}

	logger.Error("test error")
	logger.Errorf("test error: %s", "message")
	logger.Warn("test warning")
	logger.Warnf("test warning: %s", "message")
	logger.Info("test info")
	logger.Infof("test info: %s", "message")
	logger.Debug("test debug")
	logger.Debugf("test debug: %s", "message")
}

func TestLevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := NewWithOutput("journal", LevelWarn, &out, &errOut)

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("kept as well")

	if out.Len() != 0 {
		t.Errorf("expected debug/info to be filtered, got %q", out.String())
	}
	got := errOut.String()
	if !strings.Contains(got, "kept") || !strings.Contains(got, "kept as well") {
		t.Errorf("expected warn/error output, got %q", got)
	}
	if !strings.Contains(got, "journal") {
		t.Errorf("expected component tag in output, got %q", got)
	}
}

func TestNop_DiscardsEverything(t *testing.T) {
	logger := Nop()
	logger.Error("ignored")
	logger.Debugf("ignored %d", 1)
}
