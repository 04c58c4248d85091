package scribelog

/*
Runtime reconfiguration. Everything here mutates an existing logger without
recreating it; each field carries its own validity gate, so one bad value in
a batch warns and leaves that field while the rest of the batch still
applies (options are intentionally not transactional as a whole).
*/

// SetLevel changes the logger threshold. An unknown level name warns and
// retains the prior level — no partial state corruption.
func (l *Logger) SetLevel(level string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.levels.Has(level) {
		l.diag.warnf("ignoring unknown level %q, keeping %q", level, l.level)
		return l
	}
	l.level = level
	return l
}

// UpdateOptions applies a partial reconfiguration. Recognized fields:
//
//   - Level: validated, invalid names warn and leave the level unchanged
//   - Format: replaces the default pipeline
//   - Transports: replaces the shared sink sequence (fan-out order)
//   - DefaultMeta: shallow-merged over the existing defaults, not replaced
//   - Sampler: replaces the sampler
//   - RateLimit: replaces the limiter and always re-arms counter and window
//   - Profiler: shallow-merged into the existing profiler configuration
//   - Fallback: replaces the diagnostic writer
//   - ExitOnError: replaces the trap termination policy
//
// Levels, HandleSignals and Signals are construction-only and ignored here
// (the level table is immutable once bound; signal traps are managed with
// TrapSignals/ReleaseSignals).
func (l *Logger) UpdateOptions(opts Options) *Logger {
	if opts.Levels != nil {
		l.diag.warnf("ignoring Levels update: the level table is fixed at construction")
	}
	l.mu.Lock()
	if opts.Level != "" {
		if l.levels.Has(opts.Level) {
			l.level = opts.Level
		} else {
			l.diag.warnf("ignoring unknown level %q, keeping %q", opts.Level, l.level)
		}
	}
	if opts.Format != nil {
		l.format = opts.Format
	}
	if opts.DefaultMeta != nil {
		l.defaultMeta = l.defaultMeta.Merge(opts.DefaultMeta)
	}
	if opts.Sampler != nil {
		l.sampler = opts.Sampler
	}
	if opts.RateLimit != nil {
		// Re-arm: a fresh limiter starts a fresh window with a zero count.
		l.limiter = newRateLimiter(*opts.RateLimit)
	}
	if opts.ExitOnError != nil {
		l.exitOnError = *opts.ExitOnError
	}
	l.mu.Unlock()

	if opts.Transports != nil {
		l.ts.replace(opts.Transports)
	}
	if opts.Fallback != nil {
		l.diag.set(opts.Fallback)
	}
	if opts.Profiler != nil {
		l.prof.mergeOptions(*opts.Profiler)
	}
	return l
}

// AddTransport appends a sink to the shared transport sequence. Visible to
// every logger in the same tree.
func (l *Logger) AddTransport(t Transport) *Logger {
	l.ts.add(t)
	return l
}

// RemoveTransport deletes a sink from the shared sequence; removing one
// that was never added is a no-op.
func (l *Logger) RemoveTransport(t Transport) *Logger {
	l.ts.remove(t)
	return l
}

// Child produces a logger that shares this logger's level table and
// transport sequence by reference (transports are process-wide
// collaborators, not copied) and carries the parent's default metadata
// merged with meta (child wins on key conflict). The child's threshold
// starts at the parent's current value and is independently mutable
// afterwards. The child gets its own profiler table and rate-limit window.
func (l *Logger) Child(meta Fields) *Logger {
	l.mu.RLock()
	child := &Logger{
		levels:      l.levels, // same reference, parent/child consistency
		level:       l.level,
		format:      l.format,
		defaultMeta: l.defaultMeta.Merge(meta),
		sampler:     l.sampler,
		exitOnError: l.exitOnError,
		ts:          l.ts,
		diag:        l.diag,
	}
	if l.limiter != nil {
		child.limiter = newRateLimiter(RateLimit{
			MaxPerSecond: l.limiter.max,
			Window:       l.limiter.window,
		})
	}
	popts := l.prof.options()
	l.mu.RUnlock()

	child.prof = newProfiler(child, popts)
	child.trap = newErrorTrap(child)
	return child
}
