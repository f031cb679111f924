package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level filters log output. Messages below the configured level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger provides leveled logging for quill components.
// The abstraction allows swapping implementations without touching callers.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

// levelLogger implements Logger on top of the standard log package,
// one underlying logger per severity.
type levelLogger struct {
	min   Level
	err   *log.Logger
	warn  *log.Logger
	info  *log.Logger
	debug *log.Logger
}

// New creates a Logger writing to stderr/stdout with the given component
// prefix, e.g. "journal" or "ledger/jetstream".
func New(component string, min Level) Logger {
	return NewWithOutput(component, min, os.Stdout, os.Stderr)
}

// NewWithOutput creates a Logger with explicit output streams; errors and
// warnings go to errOut, the rest to out.
func NewWithOutput(component string, min Level, out, errOut io.Writer) Logger {
	tag := ""
	if component != "" {
		tag = component + " "
	}
	flags := log.LstdFlags | log.Lmicroseconds
	return &levelLogger{
		min:   min,
		err:   log.New(errOut, "[ERROR] "+tag, flags),
		warn:  log.New(errOut, "[WARN] "+tag, flags),
		info:  log.New(out, "[INFO] "+tag, flags),
		debug: log.New(out, "[DEBUG] "+tag, flags),
	}
}

// Default returns a logger for the given component at Info level.
func Default(component string) Logger {
	return New(component, LevelInfo)
}

func (l *levelLogger) Error(args ...interface{}) {
	l.print(LevelError, l.err, fmt.Sprint(args...))
}

func (l *levelLogger) Errorf(format string, args ...interface{}) {
	l.print(LevelError, l.err, fmt.Sprintf(format, args...))
}

func (l *levelLogger) Warn(args ...interface{}) {
	l.print(LevelWarn, l.warn, fmt.Sprint(args...))
}

func (l *levelLogger) Warnf(format string, args ...interface{}) {
	l.print(LevelWarn, l.warn, fmt.Sprintf(format, args...))
}

func (l *levelLogger) Info(args ...interface{}) {
	l.print(LevelInfo, l.info, fmt.Sprint(args...))
}

func (l *levelLogger) Infof(format string, args ...interface{}) {
	l.print(LevelInfo, l.info, fmt.Sprintf(format, args...))
}

func (l *levelLogger) Debug(args ...interface{}) {
	l.print(LevelDebug, l.debug, fmt.Sprint(args...))
}

func (l *levelLogger) Debugf(format string, args ...interface{}) {
	l.print(LevelDebug, l.debug, fmt.Sprintf(format, args...))
}

func (l *levelLogger) print(lvl Level, out *log.Logger, msg string) {
	if lvl < l.min {
		return
	}
	_ = out.Output(3, msg)
}

// Nop returns a Logger that discards everything. Useful in tests.
func Nop() Logger {
	return &levelLogger{
		min:   LevelError + 1,
		err:   log.New(io.Discard, "", 0),
		warn:  log.New(io.Discard, "", 0),
		info:  log.New(io.Discard, "", 0),
		debug: log.New(io.Discard, "", 0),
	}
}
