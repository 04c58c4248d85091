package scribelog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

/*
The logger core: construction, the dispatch path (enablement, metadata
merge, sampling, rate limiting, fan-out) and the level convenience methods.
Runtime reconfiguration lives in options.go, the profiler in profile.go.
*/

// Options is the constructor configuration surface. Every field is optional;
// the same struct drives runtime reconfiguration through UpdateOptions,
// where zero-valued fields mean "leave unchanged".
type Options struct {
	// Level is the logger threshold (default "info"). Unknown names warn
	// and fall back to the default.
	Level string

	// Levels is merged over the built-in priority table (DefaultLevels).
	Levels Levels

	// Format is the default pipeline applied when a transport carries none.
	// When nil, or when the chain never renders, JSON output is produced.
	Format Format

	// Transports is the initial ordered sink sequence (fan-out order).
	Transports []Transport

	// DefaultMeta is merged under call-site metadata on every record.
	DefaultMeta Fields

	// Sampler, when set, is consulted with the fully merged record; false
	// drops it. A panicking sampler is treated as "pass": the record is
	// still logged and a diagnostic warning is emitted, so a broken sampler
	// can never silently suppress logs (preserved source behavior).
	Sampler func(rec *Record) bool

	// RateLimit bounds throughput with a fixed window; nil means unlimited.
	RateLimit *RateLimit

	// Profiler configures the operation-timing subsystem.
	Profiler *ProfilerOptions

	// Fallback is the diagnostic side channel (default os.Stderr).
	Fallback io.Writer

	// HandleSignals installs the process signal trap at construction
	// (Signals, or SIGINT+SIGTERM when empty). See Logger.TrapSignals.
	HandleSignals bool
	Signals       []os.Signal

	// ExitOnError controls whether trapped panics and signals terminate the
	// process after the flush grace period. Unset means true.
	ExitOnError *bool
}

// Logger accepts log calls, enriches and formats them through the pipeline
// and fans the result out to every eligible transport. All methods are safe
// for concurrent use. Loggers are created by New and Child.
type Logger struct {
	mu          sync.RWMutex
	levels      Levels // shared with children, treated as immutable
	level       string
	format      Format
	defaultMeta Fields
	sampler     func(rec *Record) bool
	limiter     *rateLimiter
	exitOnError bool

	ts   *transportSet // shared with children: one sink set per logger tree
	diag *diagSink     // shared with children

	prof *Profiler // private per logger, never shared
	trap *errorTrap
}

// DefaultLevel is the threshold used when none is configured.
const DefaultLevel = LevelInfo

// New constructs a logger. A zero Options value yields an "info"-threshold
// logger with the default level table, JSON output, no transports and
// diagnostics on os.Stderr.
func New(opts Options) *Logger {
	l := &Logger{
		levels:      newLevelSet(opts.Levels),
		level:       DefaultLevel,
		format:      opts.Format,
		defaultMeta: opts.DefaultMeta.Clone(),
		sampler:     opts.Sampler,
		exitOnError: opts.ExitOnError == nil || *opts.ExitOnError,
		ts:          newTransportSet(opts.Transports),
		diag:        newDiagSink(opts.Fallback),
	}
	if opts.Level != "" {
		if l.levels.Has(opts.Level) {
			l.level = opts.Level
		} else {
			l.diag.warnf("unknown level %q in options, using %q", opts.Level, l.level)
		}
	}
	if opts.RateLimit != nil {
		l.limiter = newRateLimiter(*opts.RateLimit)
	}
	var popts ProfilerOptions
	if opts.Profiler != nil {
		popts = *opts.Profiler
	}
	if popts.Level != "" && !l.levels.Has(popts.Level) {
		l.diag.warnf("ignoring unknown profiler level %q", popts.Level)
		popts.Level = ""
	}
	l.prof = newProfiler(l, popts)
	l.trap = newErrorTrap(l)
	if opts.HandleSignals {
		l.TrapSignals(opts.Signals...)
	}
	return l
}

// Level returns the current threshold.
func (l *Logger) Level() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// IsLevelEnabled reports whether a record at the given level would pass the
// logger threshold. Pure query, no side effects; transport-specific gates
// are checked separately during fan-out.
func (l *Logger) IsLevelEnabled(level string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.levels.enabled(level, l.level)
}

// Log writes a record at an arbitrary level. The trailing argument is
// treated as call-site metadata when it is a plain mapping (see splitArgs);
// all other trailing arguments become splat for printf-style interpolation.
// An error passed as msg contributes its text as the message and stays
// attached to the record.
func (l *Logger) Log(level string, msg any, args ...any) {
	splat, meta := splitArgs(args)
	text, err := messageOf(msg)
	l.dispatch(&Record{Level: level, Message: text, Err: err, Splat: splat}, meta)
}

// LogCtx is Log with the ambient request id from ctx attached under
// "request_id" (when present and not already set by the caller).
func (l *Logger) LogCtx(ctx context.Context, level string, msg any, args ...any) {
	splat, meta := splitArgs(args)
	if id, ok := RequestIDFromContext(ctx); ok {
		if _, set := meta[requestIDField]; !set {
			meta = meta.Merge(Fields{requestIDField: id})
		}
	}
	text, err := messageOf(msg)
	l.dispatch(&Record{Level: level, Message: text, Err: err, Splat: splat}, meta)
}

// LogEntry writes a pre-built record. Explicit record fields win over the
// logger's default metadata; a zero Time is stamped at dispatch. Records
// with an unknown level are dropped like any other disabled record.
func (l *Logger) LogEntry(rec Record) {
	r := rec
	r.Fields = rec.Fields.Clone()
	l.dispatch(&r, nil)
}

// Convenience wrappers for the standard levels. Custom levels go through
// Log directly.

func (l *Logger) Error(msg any, args ...any) { l.Log(LevelError, msg, args...) }
func (l *Logger) Warn(msg any, args ...any)  { l.Log(LevelWarn, msg, args...) }
func (l *Logger) Info(msg any, args ...any)  { l.Log(LevelInfo, msg, args...) }
func (l *Logger) Debug(msg any, args ...any) { l.Log(LevelDebug, msg, args...) }
func (l *Logger) Trace(msg any, args ...any) { l.Log(LevelTrace, msg, args...) }

// Printf-style variants; metadata can still be attached through the plain
// wrappers' trailing mapping argument or LogEntry.

func (l *Logger) Errorf(format string, args ...any) { l.Log(LevelError, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.Log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.Log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugf(format string, args ...any) { l.Log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Tracef(format string, args ...any) { l.Log(LevelTrace, fmt.Sprintf(format, args...)) }

var fallbackRender = FormatJSON()

// dispatch is the single funnel every record passes through: enablement,
// timestamp, metadata merge, sampling, rate limiting, fan-out. It never
// returns an error and never panics back into the caller; failures go to
// the diagnostic side channel.
func (l *Logger) dispatch(rec *Record, callMeta Fields) {
	l.mu.RLock()
	levels, threshold := l.levels, l.level
	format := l.format
	defaultMeta := l.defaultMeta
	sampler := l.sampler
	limiter := l.limiter
	l.mu.RUnlock()

	if !levels.enabled(rec.Level, threshold) {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	// Merge order, later wins: defaults, call-site meta, explicit record
	// fields (LogEntry).
	rec.Fields = defaultMeta.Merge(callMeta).Merge(rec.Fields)

	if sampler != nil && !l.sample(sampler, rec) {
		return
	}
	if limiter != nil && !limiter.allow() {
		return
	}

	for _, t := range l.ts.snapshot() {
		if lt, ok := t.(LeveledTransport); ok {
			if tl := lt.TransportLevel(); tl != "" && !levels.enabled(rec.Level, tl) {
				continue
			}
		}
		f := format
		if ft, ok := t.(FormattedTransport); ok {
			if tf := ft.TransportFormat(); tf != nil {
				f = tf
			}
		}
		// Each transport gets its own copy: transport formats mutate the
		// record, and async sinks may hold it past this call.
		l.deliver(t, rec.Clone(), f)
	}
}

// sample runs the sampler with panic isolation. A panic counts as "pass":
// sampler failures must never suppress a log the user did not ask to drop.
func (l *Logger) sample(sampler func(*Record) bool, rec *Record) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			keep = true
			l.diag.warnf("sampler panic (record logged anyway): %v", r)
		}
	}()
	return sampler(rec)
}

// deliver renders and writes to one transport with full failure isolation:
// a failing or panicking sink is reported to diagnostics and cannot blind
// the remaining transports.
func (l *Logger) deliver(t Transport, rec *Record, f Format) {
	defer func() {
		if r := recover(); r != nil {
			l.diag.warnf("transport panic: %v", r)
		}
	}()
	var line []byte
	if f != nil {
		line = f(rec)
	}
	if line == nil {
		line = fallbackRender(rec)
	}
	if err := t.Log(rec, line); err != nil {
		l.diag.warnf("transport error: %v", err)
	}
}

// transportSet is the ordered sink sequence shared by a parent logger and
// all its children: adding a transport through any logger in the tree is
// visible to the others (children forward through the parent's sinks).
type transportSet struct {
	mu   sync.RWMutex
	list []Transport
}

func newTransportSet(initial []Transport) *transportSet {
	ts := &transportSet{}
	for _, t := range initial {
		if t != nil {
			ts.list = append(ts.list, t)
		}
	}
	return ts
}

func (ts *transportSet) snapshot() []Transport {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]Transport, len(ts.list))
	copy(out, ts.list)
	return out
}

func (ts *transportSet) add(t Transport) {
	if t == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.list = append(ts.list, t)
}

// remove deletes the first identical transport; removing a non-member is a
// no-op, never an error.
func (ts *transportSet) remove(t Transport) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i, cur := range ts.list {
		if cur == t {
			ts.list = append(ts.list[:i], ts.list[i+1:]...)
			return
		}
	}
}

func (ts *transportSet) replace(list []Transport) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.list = ts.list[:0]
	for _, t := range list {
		if t != nil {
			ts.list = append(ts.list, t)
		}
	}
}

// Close disposes the profiler, releases any signal trap owned by this
// logger and closes every closable transport (drain-and-stop, not abort).
// The shared transport set is closed once; closing a parent also closes
// sinks its children forward through.
func (l *Logger) Close() error {
	l.prof.Dispose()
	l.ReleaseSignals()
	var first error
	for _, t := range l.ts.snapshot() {
		c, ok := t.(io.Closer)
		if !ok {
			continue
		}
		if err := l.closeTransport(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Logger) closeTransport(c io.Closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport close panic: %v", r)
			l.diag.warnf("%v", err)
		}
	}()
	if err = c.Close(); err != nil {
		l.diag.warnf("transport close error: %v", err)
	}
	return err
}
