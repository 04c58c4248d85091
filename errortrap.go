package scribelog

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"
)

/*
Last-resort error trapping: process signals and unrecovered panics are
turned into regular error-level records before the process goes down, so
the crash reason reaches the configured transports instead of only a bare
stderr trace. Termination honors ExitOnError and waits a short grace
period for buffered transports to flush.
*/

// DefaultExitGracePeriod bounds how long termination waits for transports
// to flush after a trapped panic or signal.
const DefaultExitGracePeriod = 3 * time.Second

// osExit is swapped out in tests.
var osExit = os.Exit

type errorTrap struct {
	logger *Logger

	mu    sync.Mutex
	sigCh chan os.Signal
	done  chan struct{}
}

func newErrorTrap(l *Logger) *errorTrap {
	return &errorTrap{logger: l}
}

// TrapSignals installs a process signal trap owned by this logger: each
// delivered signal is logged at error level with event_type "signal", then
// the process terminates after the flush grace period when ExitOnError is
// set (the default). No signals means SIGINT and SIGTERM. Installing again
// replaces the previous trap; only one is active per logger.
func (l *Logger) TrapSignals(sigs ...os.Signal) *Logger {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	t := l.trap
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.sigCh = make(chan os.Signal, 1)
	t.done = make(chan struct{})
	signal.Notify(t.sigCh, sigs...)
	go t.watch(t.sigCh, t.done)
	return l
}

// ReleaseSignals uninstalls the trap and restores default signal
// disposition for the trapped signals. No-op when none is installed.
func (l *Logger) ReleaseSignals() *Logger {
	t := l.trap
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	return l
}

func (t *errorTrap) stopLocked() {
	if t.sigCh == nil {
		return
	}
	signal.Stop(t.sigCh)
	close(t.done)
	t.sigCh = nil
	t.done = nil
}

func (t *errorTrap) watch(ch chan os.Signal, done chan struct{}) {
	for {
		select {
		case sig := <-ch:
			t.logger.Log(LevelError, fmt.Sprintf("received signal %s", sig), Fields{
				"exception":  true,
				"event_type": "signal",
				"signal":     sig.String(),
			})
			t.maybeExit(1)
		case <-done:
			return
		}
	}
}

// maybeExit terminates the process when ExitOnError is set, after giving
// transports the grace period to flush. With ExitOnError unset the trap
// only logs and the process keeps running.
func (t *errorTrap) maybeExit(code int) {
	t.logger.mu.RLock()
	exit := t.logger.exitOnError
	t.logger.mu.RUnlock()
	if !exit {
		return
	}
	flushed := make(chan struct{})
	go func() {
		t.logger.Close() //nolint:errcheck
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(DefaultExitGracePeriod):
	}
	osExit(code)
}

// Recover is the deferred panic trap:
//
//	defer log.Recover()
//
// A panic in the surrounding function is logged at error level with
// event_type "panic" and the stack trace, then the process terminates per
// ExitOnError; with ExitOnError disabled the panic is swallowed and the
// goroutine continues past the deferred call. A normal return is a no-op.
func (l *Logger) Recover(meta ...Fields) {
	r := recover()
	if r == nil {
		return
	}
	l.logPanic(r, mergeMetas(meta))
	l.trap.maybeExit(1)
}

// CatchPanics runs fn, converting a panic into a logged error record (same
// shape as Recover). It reports whether fn panicked. The process is not
// terminated regardless of ExitOnError; this is the tool for isolating
// worker goroutines, not for crash reporting.
func (l *Logger) CatchPanics(fn func(), meta ...Fields) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			l.logPanic(r, mergeMetas(meta))
		}
	}()
	fn()
	return false
}

func (l *Logger) logPanic(r any, meta Fields) {
	err, extra := panicToError(r)
	fields := Fields{
		"exception":  true,
		"event_type": "panic",
		"stack":      string(debug.Stack()),
	}.Merge(extra).Merge(meta)
	l.dispatch(&Record{Level: LevelError, Message: err.Error(), Err: err, Fields: fields}, nil)
}

// panicToError normalizes an arbitrary panic value. Non-error values keep
// their original form under "panic_value" so nothing is lost to the %v
// rendering.
func panicToError(r any) (error, Fields) {
	if err, ok := r.(error); ok {
		return err, nil
	}
	return fmt.Errorf("panic: %v", r), Fields{"panic_value": r}
}
