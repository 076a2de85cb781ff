// Package hugelog provides named, debug-gated loggers for hugefs's
// subsystems, with optional rotation for daemonized runs.
package hugelog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

var debugEnabled atomic.Bool

// SetDebug toggles whether loggers created by New write to stderr (or
// the configured rotation file) instead of discarding.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// SetOutputFile rotates all future log output to path via
// lumberjack, instead of stderr. Pass an empty path to revert to
// stderr.
func SetOutputFile(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	mu.Lock()
	defer mu.Unlock()

	if path == "" {
		output = os.Stderr
		return
	}

	output = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
)

// Logger is a named, debug-gated wrapper around *log.Logger.
type Logger struct {
	name string
}

// New returns a logger for the named subsystem (e.g. "catalog",
// "store.local", "fs", "control"). The returned Logger reads the
// current debug/output settings on every call, so SetDebug and
// SetOutputFile take effect for loggers already constructed.
func New(name string) *Logger {
	return &Logger{name: name}
}

func (l *Logger) writer() io.Writer {
	if !debugEnabled.Load() {
		return io.Discard
	}
	mu.Lock()
	defer mu.Unlock()
	return output
}

// Debugf writes a debug-gated, subsystem-prefixed log line.
func (l *Logger) Debugf(format string, args ...any) {
	w := l.writer()
	if w == io.Discard {
		return
	}
	log.New(w, fmt.Sprintf("%s: ", l.name), log.LstdFlags).Printf(format, args...)
}

// Errorf always writes, regardless of the debug flag: operational
// errors are never silently dropped.
func (l *Logger) Errorf(format string, args ...any) {
	mu.Lock()
	w := output
	mu.Unlock()
	log.New(w, fmt.Sprintf("%s: ", l.name), log.LstdFlags).Printf(format, args...)
}
