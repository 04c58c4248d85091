package scribelog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

/*
The diagnostic side channel. Misconfiguration warnings, sampler/hook
failures and transport errors are reported here, never through the
configured transports — routing internal failures back into the dispatch
pipeline would risk infinite recursion when a transport itself is broken.
*/

// diagSink wraps the fallback writer shared by a logger and its children.
// The mutex serializes the writes themselves, not just the writer pointer:
// warnf is called from the dispatch path and from background goroutines
// (sweeper, signal watch), and the writer need not be concurrency-safe.
type diagSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newDiagSink(w io.Writer) *diagSink {
	if w == nil {
		w = os.Stderr
	}
	return &diagSink{w: w}
}

// set replaces the fallback writer; nil silently discards diagnostics
// (io.Discard rather than nil, so writes never need a guard).
func (d *diagSink) set(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	d.w = w
}

// warnf writes a single timestamped diagnostic line. Write failures on the
// fallback itself are ignored; there is nowhere further to report them.
func (d *diagSink) warnf(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	d.w.Write([]byte(time.Now().Format(DefaultTimeLayout) + " scribelog: " + msg + "\n")) //nolint:errcheck
}

// SetFallback redirects the diagnostic side channel (default os.Stderr).
// Passing nil discards diagnostics. The fallback is shared with child
// loggers.
func (l *Logger) SetFallback(w io.Writer) *Logger {
	l.diag.set(w)
	return l
}
