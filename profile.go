package scribelog

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

/*
The profiling subsystem: a table of concurrently running named timers with
handle-based and label-based (LIFO) completion, duration-driven severity
escalation, tag/field composition, an optional measurement hook, and
garbage collection of orphaned timers under a TTL and a population cap.
Completed measurements route through the normal dispatch path.
*/

// TagsMode selects how profiler default tags combine with caller tags.
type TagsMode int

const (
	// TagsAppend (default): caller tags, then "profile", then defaults,
	// de-duplicated keeping first occurrence.
	TagsAppend TagsMode = iota
	// TagsPrepend: "profile", then defaults, then caller tags.
	TagsPrepend
	// TagsReplace: exactly the caller tags ("profile" alone when none).
	TagsReplace
)

// profileTag marks every measurement record.
const profileTag = "profile"

// Profiler defaults; all overridable through ProfilerOptions.
const (
	DefaultProfileTTL        = 10 * time.Minute
	DefaultCleanupInterval   = time.Minute
	DefaultMaxActiveProfiles = 1000
)

// ProfilerOptions configures a logger's timing subsystem. Zero values mean
// defaults; updates through Logger.UpdateOptions merge shallowly into the
// existing configuration.
type ProfilerOptions struct {
	// Level is the base severity of measurement records (default "debug").
	Level string

	// ThresholdWarn/ThresholdError escalate the severity of measurements
	// whose duration reaches them.
	ThresholdWarn  time.Duration
	ThresholdError time.Duration

	// GetLevel, when set, resolves the severity of every measurement and is
	// authoritative: neither thresholds nor a caller-supplied "level" field
	// override its result.
	GetLevel func(d time.Duration, meta Fields) string

	// NamespaceWithRequestID prefixes the internal timer key with the
	// ambient request id (bookkeeping identity only, the label is
	// unchanged). Only effective for ProfileCtx/TimeAsync starts.
	NamespaceWithRequestID bool

	// KeyFactory builds the internal timer key from the label; the default
	// appends a process-unique sequence number.
	KeyFactory func(label string) string

	// TTL is the age after which a still-running timer counts as orphaned
	// and is reaped by the background sweep.
	TTL time.Duration

	// CleanupInterval is the sweep period.
	CleanupInterval time.Duration

	// MaxActiveProfiles caps the running-timer table; inserting beyond it
	// evicts the oldest-started timer.
	MaxActiveProfiles int

	// TagsDefault/TagsMode drive tag composition on measurement records.
	TagsDefault []string
	TagsMode    TagsMode

	// FieldsDefault fills keys absent from the merged start+end metadata;
	// it never overrides what a caller supplied.
	FieldsDefault Fields

	// OnMeasure is invoked synchronously once per completed measurement,
	// after severity/tag/field composition and before dispatch. A panicking
	// hook is reported to diagnostics and never blocks the record.
	OnMeasure func(ev Event)
}

// Event is the payload handed to the OnMeasure hook. Success is tri-state:
// nil means "outcome unknown" (manual Profile/End pairs), true/false comes
// from wrapped TimeSync/TimeAsync calls.
type Event struct {
	Key       string
	Label     string
	Duration  time.Duration
	Success   *bool
	Level     string
	Tags      []string
	RequestID string
	Fields    Fields
}

// Handle is the caller's capability to end one specific timer instance,
// distinct from ending by label. The zero Handle (empty key) is the
// fast-path no-op handle: ending it does nothing at zero cost.
type Handle struct {
	p     *Profiler
	key   string
	label string
}

// Key returns the internal timer key ("" for a fast-path handle).
func (h Handle) Key() string { return h.key }

// Label returns the display label the timer was started with.
func (h Handle) Label() string { return h.label }

// End completes exactly this timer. Ending an already ended timer warns and
// is a no-op (never a double log); ending a reaped timer is a silent no-op
// (the reap already warned once).
func (h Handle) End(meta ...Fields) {
	if h.p == nil || h.key == "" {
		return
	}
	h.p.endKey(h.key, h.label, mergeMetas(meta))
}

type activeTimer struct {
	key       string
	label     string
	startedAt time.Time
	meta      Fields
	requestID string
}

// Profiler owns the running-timer table of one logger. The table is private
// per logger instance; children get their own.
type Profiler struct {
	logger *Logger

	mu       sync.RWMutex
	opts     ProfilerOptions
	active   map[string]*activeTimer
	stacks   map[string][]string  // label -> keys in start order; LIFO end
	reaped   map[string]time.Time // key -> reap time, purged after TTL
	sweeping bool
	disposed bool
	done     chan struct{}

	seq atomic.Uint64
}

func newProfiler(l *Logger, opts ProfilerOptions) *Profiler {
	return &Profiler{
		logger: l,
		opts:   opts,
		active: make(map[string]*activeTimer),
		stacks: make(map[string][]string),
		reaped: make(map[string]time.Time),
	}
}

// Profiler exposes the timing subsystem of this logger (for Dispose and
// introspection; the usual entry points are the Logger methods).
func (l *Logger) Profiler() *Profiler { return l.prof }

// Profile starts a named timer and returns its handle. On the fast path —
// profiling effectively disabled, see wouldEmit — it returns the zero
// handle and performs no bookkeeping at all.
func (l *Logger) Profile(label string, meta ...Fields) Handle {
	return l.prof.start(context.Background(), label, mergeMetas(meta))
}

// ProfileCtx is Profile reading the ambient request id from ctx for key
// namespacing and the measurement event.
func (l *Logger) ProfileCtx(ctx context.Context, label string, meta ...Fields) Handle {
	return l.prof.start(ctx, label, mergeMetas(meta))
}

// ProfileEnd completes the most recently started, still-running timer with
// the given label (LIFO per label — the deliberate resolution when
// concurrent operations share a label). Unknown labels warn and are a
// no-op.
func (l *Logger) ProfileEnd(label string, meta ...Fields) {
	l.prof.endLabel(label, mergeMetas(meta))
}

// Time and TimeEnd are pure aliases for Profile and ProfileEnd.
func (l *Logger) Time(label string, meta ...Fields) Handle { return l.Profile(label, meta...) }
func (l *Logger) TimeEnd(label string, meta ...Fields)     { l.ProfileEnd(label, meta...) }

// ActiveProfiles returns the number of running timers.
func (p *Profiler) ActiveProfiles() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// Dispose stops the background sweep; running timers are then kept
// indefinitely until explicitly ended, regardless of TTL. Idempotent.
func (p *Profiler) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	if p.sweeping {
		close(p.done)
		p.sweeping = false
	}
}

// options returns a copy of the current configuration (for Child).
func (p *Profiler) options() ProfilerOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// mergeOptions shallow-merges non-zero fields into the configuration;
// existing values survive where the update is silent.
func (p *Profiler) mergeOptions(opts ProfilerOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if opts.Level != "" {
		if p.logger.levels.Has(opts.Level) {
			p.opts.Level = opts.Level
		} else {
			p.logger.diag.warnf("ignoring unknown profiler level %q", opts.Level)
		}
	}
	if opts.ThresholdWarn > 0 {
		p.opts.ThresholdWarn = opts.ThresholdWarn
	}
	if opts.ThresholdError > 0 {
		p.opts.ThresholdError = opts.ThresholdError
	}
	if opts.GetLevel != nil {
		p.opts.GetLevel = opts.GetLevel
	}
	if opts.NamespaceWithRequestID {
		p.opts.NamespaceWithRequestID = true
	}
	if opts.KeyFactory != nil {
		p.opts.KeyFactory = opts.KeyFactory
	}
	if opts.TTL > 0 {
		p.opts.TTL = opts.TTL
	}
	if opts.CleanupInterval > 0 {
		p.opts.CleanupInterval = opts.CleanupInterval
	}
	if opts.MaxActiveProfiles > 0 {
		p.opts.MaxActiveProfiles = opts.MaxActiveProfiles
	}
	if opts.TagsDefault != nil {
		p.opts.TagsDefault = opts.TagsDefault
	}
	if opts.TagsMode != TagsAppend {
		p.opts.TagsMode = opts.TagsMode
	}
	if opts.FieldsDefault != nil {
		p.opts.FieldsDefault = p.opts.FieldsDefault.Merge(opts.FieldsDefault)
	}
	if opts.OnMeasure != nil {
		p.opts.OnMeasure = opts.OnMeasure
	}
}

// wouldEmit decides the fast path: when the base level is not enabled and
// no threshold or GetLevel override could force a measurement out, all
// bookkeeping is skipped. This is the zero-overhead contract for
// deployments where profiling is compiled in but runtime-disabled.
func (p *Profiler) wouldEmit() bool {
	p.mu.RLock()
	opts := p.opts
	p.mu.RUnlock()
	if opts.GetLevel != nil || opts.ThresholdWarn > 0 || opts.ThresholdError > 0 {
		return true
	}
	base := opts.Level
	if base == "" {
		base = LevelDebug
	}
	return p.logger.IsLevelEnabled(base)
}

func (p *Profiler) newKey(label string) string {
	p.mu.RLock()
	factory := p.opts.KeyFactory
	p.mu.RUnlock()
	if factory != nil {
		return factory(label)
	}
	return label + "#" + strconv.FormatUint(p.seq.Add(1), 10)
}

func (p *Profiler) start(ctx context.Context, label string, meta Fields) Handle {
	if !p.wouldEmit() {
		return Handle{}
	}
	key := p.newKey(label)
	requestID, _ := RequestIDFromContext(ctx)

	p.mu.Lock()
	if p.opts.NamespaceWithRequestID && requestID != "" {
		// Bookkeeping identity only; the emitted label stays unchanged.
		key = requestID + ":" + key
	}
	max := p.opts.MaxActiveProfiles
	if max <= 0 {
		max = DefaultMaxActiveProfiles
	}
	if len(p.active) >= max {
		p.evictOldestLocked()
	}
	p.active[key] = &activeTimer{
		key:       key,
		label:     label,
		startedAt: time.Now(),
		meta:      meta.Clone(),
		requestID: requestID,
	}
	p.stacks[label] = append(p.stacks[label], key)
	p.ensureSweeperLocked()
	p.mu.Unlock()

	return Handle{p: p, key: key, label: label}
}

// evictOldestLocked reaps the oldest-started running timer to bound memory
// under sustained misuse (callers that forget to end timers).
func (p *Profiler) evictOldestLocked() {
	var oldest *activeTimer
	for _, e := range p.active {
		if oldest == nil || e.startedAt.Before(oldest.startedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	p.reapLocked(oldest, "max active profiles reached")
}

func (p *Profiler) reapLocked(e *activeTimer, why string) {
	delete(p.active, e.key)
	p.dropFromStackLocked(e.label, e.key)
	p.reaped[e.key] = time.Now()
	p.logger.diag.warnf("profile timer %q (%s) reaped: %s", e.key, e.label, why)
}

func (p *Profiler) dropFromStackLocked(label, key string) {
	keys := p.stacks[label]
	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i] == key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(p.stacks, label)
	} else {
		p.stacks[label] = keys
	}
}

func (p *Profiler) endKey(key, label string, endMeta Fields) {
	p.mu.Lock()
	e, ok := p.active[key]
	if !ok {
		_, wasReaped := p.reaped[key]
		p.mu.Unlock()
		if !wasReaped {
			// Already ended (or never existed): warn once, no double log.
			p.logger.diag.warnf("profile end for unknown or already ended timer %q (%s)", key, label)
		}
		return
	}
	delete(p.active, key)
	p.dropFromStackLocked(e.label, key)
	p.mu.Unlock()

	p.measure(e.label, time.Since(e.startedAt), nil, nil, e.meta.Merge(endMeta), e.requestID, key)
}

func (p *Profiler) endLabel(label string, endMeta Fields) {
	p.mu.Lock()
	keys := p.stacks[label]
	if len(keys) == 0 {
		p.mu.Unlock()
		if !p.wouldEmit() {
			// Fast path: starts did no bookkeeping, so ends are free no-ops.
			return
		}
		p.logger.diag.warnf("profile end for unknown label %q", label)
		return
	}
	key := keys[len(keys)-1] // most recently started wins (LIFO per label)
	e := p.active[key]
	delete(p.active, key)
	p.dropFromStackLocked(label, key)
	p.mu.Unlock()

	p.measure(e.label, time.Since(e.startedAt), nil, nil, e.meta.Merge(endMeta), e.requestID, key)
}

// measure composes severity, tags and fields for one completed timing,
// fires the hook and dispatches the record through the normal path.
func (p *Profiler) measure(label string, d time.Duration, success *bool, err error, meta Fields, requestID, key string) {
	p.mu.RLock()
	opts := p.opts
	p.mu.RUnlock()

	fields := meta.Clone()
	if fields == nil {
		fields = make(Fields)
	}

	// Severity, in priority order: GetLevel (authoritative), explicit
	// "level" in metadata, error threshold, warn threshold, configured
	// base, debug.
	level := ""
	if opts.GetLevel != nil {
		level = p.customLevel(opts.GetLevel, d, fields)
	}
	if level == "" {
		if lv, ok := fields["level"].(string); ok && p.logger.levels.Has(lv) && opts.GetLevel == nil {
			level = lv
		}
	}
	if level == "" && opts.ThresholdError > 0 && d >= opts.ThresholdError {
		level = LevelError
	}
	if level == "" && opts.ThresholdWarn > 0 && d >= opts.ThresholdWarn {
		level = LevelWarn
	}
	if level == "" {
		level = opts.Level
	}
	if level == "" || !p.logger.levels.Has(level) {
		level = LevelDebug
	}
	delete(fields, "level")

	fields = fields.fill(opts.FieldsDefault)
	fields["duration_ms"] = float64(d.Nanoseconds()) / 1e6
	if success != nil {
		fields["success"] = *success
	}
	if requestID != "" {
		fields = fields.fill(Fields{requestIDField: requestID})
	}

	tags := composeTags(nil, opts.TagsDefault, opts.TagsMode)
	if t, ok := fields["tags"].([]string); ok {
		tags = composeTags(t, opts.TagsDefault, opts.TagsMode)
		delete(fields, "tags")
	}

	if opts.OnMeasure != nil {
		p.fireHook(opts.OnMeasure, Event{
			Key:       key,
			Label:     label,
			Duration:  d,
			Success:   success,
			Level:     level,
			Tags:      tags,
			RequestID: requestID,
			Fields:    fields,
		})
	}

	p.logger.dispatch(&Record{Level: level, Message: label, Err: err, Tags: tags, Fields: fields}, nil)
}

// customLevel runs GetLevel with panic isolation; a panic or an unknown
// result falls back to the rest of the severity chain.
func (p *Profiler) customLevel(getLevel func(time.Duration, Fields) string, d time.Duration, meta Fields) (level string) {
	defer func() {
		if r := recover(); r != nil {
			level = ""
			p.logger.diag.warnf("profiler GetLevel panic: %v", r)
		}
	}()
	level = getLevel(d, meta)
	if level != "" && !p.logger.levels.Has(level) {
		p.logger.diag.warnf("profiler GetLevel returned unknown level %q", level)
		level = ""
	}
	return level
}

func (p *Profiler) fireHook(hook func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.diag.warnf("profiler OnMeasure panic: %v", r)
		}
	}()
	hook(ev)
}

// composeTags applies the tag-composition policy, de-duplicating while
// preserving first occurrence.
func composeTags(provided, defaults []string, mode TagsMode) []string {
	var raw []string
	switch mode {
	case TagsReplace:
		if len(provided) == 0 {
			return []string{profileTag}
		}
		raw = provided
	case TagsPrepend:
		raw = make([]string, 0, len(defaults)+len(provided)+1)
		raw = append(raw, profileTag)
		raw = append(raw, defaults...)
		raw = append(raw, provided...)
	default: // TagsAppend
		raw = make([]string, 0, len(defaults)+len(provided)+1)
		raw = append(raw, provided...)
		raw = append(raw, profileTag)
		raw = append(raw, defaults...)
	}
	seen := make(map[string]struct{}, len(raw))
	out := raw[:0:0]
	for _, tag := range raw {
		if _, dup := seen[tag]; dup || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// ensureSweeperLocked lazily starts the orphan sweep the first time a timer
// is recorded; fast-path-only usage never spawns the goroutine.
func (p *Profiler) ensureSweeperLocked() {
	if p.sweeping || p.disposed {
		return
	}
	interval := p.opts.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	p.sweeping = true
	p.done = make(chan struct{})
	go p.runSweeper(interval, p.done)
}

func (p *Profiler) runSweeper(interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			p.sweep(now)
		case <-done:
			return
		}
	}
}

// sweep reaps running timers older than the TTL and forgets reap tombstones
// old enough that no straggler end can still reference them.
func (p *Profiler) sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ttl := p.opts.TTL
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	var orphans []*activeTimer
	for _, e := range p.active {
		if now.Sub(e.startedAt) > ttl {
			orphans = append(orphans, e)
		}
	}
	for _, e := range orphans {
		p.reapLocked(e, "ttl exceeded")
	}
	for key, at := range p.reaped {
		if now.Sub(at) > 2*ttl {
			delete(p.reaped, key)
		}
	}
}

// TimeSync measures a synchronous call: fn always runs, the measurement is
// logged with success true on normal return and false (error attached) on
// failure, and fn's own error — or panic, unmodified — is always handed
// back to the caller after logging. On the fast path fn runs unmeasured.
func TimeSync[T any](l *Logger, label string, fn func() (T, error), meta ...Fields) (T, error) {
	p := l.prof
	if !p.wouldEmit() {
		return fn()
	}
	m := mergeMetas(meta)
	key := p.newKey(label)
	start := time.Now()
	finished := false
	defer func() {
		if finished {
			return
		}
		// fn panicked: log the measurement, then let the original panic
		// value continue unmodified.
		r := recover()
		failed := false
		err, extra := panicToError(r)
		p.measure(label, time.Since(start), &failed, err, m.Merge(extra), "", key)
		panic(r)
	}()
	v, err := fn()
	d := time.Since(start)
	finished = true
	success := err == nil
	p.measure(label, d, &success, err, m, "", key)
	return v, err
}

// TimeAsync is TimeSync for context-aware operations: the measurement is
// emitted after fn settles and before the result reaches the caller, and
// ctx supplies the ambient request id.
func TimeAsync[T any](ctx context.Context, l *Logger, label string, fn func(ctx context.Context) (T, error), meta ...Fields) (T, error) {
	p := l.prof
	if !p.wouldEmit() {
		return fn(ctx)
	}
	m := mergeMetas(meta)
	key := p.newKey(label)
	requestID, _ := RequestIDFromContext(ctx)
	start := time.Now()
	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		failed := false
		err, extra := panicToError(r)
		p.measure(label, time.Since(start), &failed, err, m.Merge(extra), requestID, key)
		panic(r)
	}()
	v, err := fn(ctx)
	d := time.Since(start)
	finished = true
	success := err == nil
	p.measure(label, d, &success, err, m, requestID, key)
	return v, err
}

// TimeFunc is the non-generic convenience form of TimeSync for functions
// with no result value.
func (l *Logger) TimeFunc(label string, fn func() error, meta ...Fields) error {
	_, err := TimeSync(l, label, func() (struct{}, error) { return struct{}{}, fn() }, meta...)
	return err
}

// TimeFuncCtx is the non-generic convenience form of TimeAsync.
func (l *Logger) TimeFuncCtx(ctx context.Context, label string, fn func(ctx context.Context) error, meta ...Fields) error {
	_, err := TimeAsync(ctx, l, label, func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) }, meta...)
	return err
}

func mergeMetas(metas []Fields) Fields {
	switch len(metas) {
	case 0:
		return nil
	case 1:
		return metas[0].Clone()
	}
	var out Fields
	for _, m := range metas {
		out = out.Merge(m)
	}
	return out
}
