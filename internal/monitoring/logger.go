// Package monitoring carries the diagnostic log streams shared by the
// pipeline packages.
//
// Logf is the general-purpose logger. The ops, diag and trace streams split
// output by audience:
//
//   - ops: actionable warnings and errors (dropped events, storage failures)
//   - diag: day-to-day diagnostics (triggers, committed events, window estimates)
//   - trace: per-tick telemetry (raw readings)
package monitoring

import (
	"io"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	streamsMu   sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the ops, diag and trace streams.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	streamsMu.Lock()
	defer streamsMu.Unlock()
	opsLogger = newLogger("[ops] ", ops)
	diagLogger = newLogger("[diag] ", diag)
	traceLogger = newLogger("[trace] ", trace)
}

// SetSingleWriter routes all three streams to w. Pass nil to disable all of them.
func SetSingleWriter(w io.Writer) {
	SetLogWriters(w, w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	// Lmsgprefix keeps the stream tag next to the message, after the timestamp
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
}

// Opsf logs to the ops stream. When the stream is disabled the message falls
// back to Logf, so operational failures are never lost.
func Opsf(format string, args ...interface{}) {
	streamsMu.RLock()
	l := opsLogger
	streamsMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
		return
	}
	Logf(format, args...)
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	streamsMu.RLock()
	l := diagLogger
	streamsMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	streamsMu.RLock()
	l := traceLogger
	streamsMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
