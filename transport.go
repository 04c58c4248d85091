package scribelog

import (
	"errors"
	"io"
	"sync"
)

/*
Transports are the output sinks at the end of the pipeline. The core only
depends on the Log method; level gating, per-transport formatting and
closing are optional capabilities discovered by interface assertion, so any
thin wrapper around a console, file, socket or database handle can plug in.
*/

// Transport consumes finalized log output. rec is the post-pipeline record
// and line its rendered byte form; implementations must not retain or
// mutate either after returning.
type Transport interface {
	Log(rec *Record, line []byte) error
}

// LeveledTransport is an optional capability: a transport with its own
// severity gate. An absent (or empty) level means "always eligible".
type LeveledTransport interface {
	TransportLevel() string
}

// FormattedTransport is an optional capability: a transport carrying its own
// format chain, used instead of the logger default.
type FormattedTransport interface {
	TransportFormat() Format
}

// Closing a transport is a drain-and-stop operation, not an abort; the
// dispatcher never cancels in-flight writes. Transports that need flushing
// implement io.Closer and are closed by Logger.Close.

// WriterTransport writes rendered lines to an io.Writer. Level and Format
// are optional per-transport settings; the zero values mean "no own gate"
// and "use the logger default".
type WriterTransport struct {
	mu     sync.Mutex
	w      io.Writer
	level  string
	format Format
}

// NewWriterTransport wraps an io.Writer as a transport. level may be empty
// (no transport-specific gate) and format nil (logger default applies).
func NewWriterTransport(w io.Writer, level string, format Format) *WriterTransport {
	return &WriterTransport{w: w, level: level, format: format}
}

// NewConsoleTransport is a writer transport with the colored console
// renderer, intended for os.Stdout/os.Stderr.
func NewConsoleTransport(w io.Writer) *WriterTransport {
	return NewWriterTransport(w, "", FormatConsole())
}

func (t *WriterTransport) Log(_ *Record, line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return errors.New("writer transport has no writer")
	}
	_, err := t.w.Write(line)
	return err
}

func (t *WriterTransport) TransportLevel() string  { return t.level }
func (t *WriterTransport) TransportFormat() Format { return t.format }

// MemoryTransport captures records and rendered lines in memory. It is the
// sink used throughout the package tests and is handy for asserting on log
// output in application tests as well.
type MemoryTransport struct {
	mu      sync.Mutex
	level   string
	format  Format
	records []*Record
	lines   [][]byte
}

// NewMemoryTransport returns an empty capture sink with no own level gate.
func NewMemoryTransport() *MemoryTransport { return &MemoryTransport{} }

// NewMemoryTransportAt returns a capture sink gated at the given level.
func NewMemoryTransportAt(level string) *MemoryTransport {
	return &MemoryTransport{level: level}
}

func (t *MemoryTransport) Log(rec *Record, line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec.Clone())
	t.lines = append(t.lines, append([]byte(nil), line...))
	return nil
}

func (t *MemoryTransport) TransportLevel() string  { return t.level }
func (t *MemoryTransport) TransportFormat() Format { return t.format }

// Len returns the number of captured records.
func (t *MemoryTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Records returns a snapshot of the captured records.
func (t *MemoryTransport) Records() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Record, len(t.records))
	copy(out, t.records)
	return out
}

// Lines returns a snapshot of the captured rendered lines.
func (t *MemoryTransport) Lines() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.lines))
	copy(out, t.lines)
	return out
}

// Reset drops everything captured so far.
func (t *MemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records, t.lines = nil, nil
}

// DefaultHighWaterMark bounds a buffered transport's queue when the caller
// does not choose one.
const DefaultHighWaterMark = 1024

type bufferedEntry struct {
	rec  *Record
	line []byte
}

// BufferedTransport decouples callers from a slow sink: Log enqueues into a
// bounded queue served by a background worker that forwards to the wrapped
// transport. Under sustained overproduction the OLDEST queued entry is
// dropped to admit the new one, so the queue always retains the most recent
// highWaterMark entries; drops are counted, never silent.
type BufferedTransport struct {
	mu      sync.Mutex
	next    Transport
	queue   chan bufferedEntry
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
	dropped uint64
	onDrop  func(rec *Record)
}

// NewBufferedTransport wraps next with a queue of the given capacity
// (DefaultHighWaterMark for non-positive values). The transport is inert
// until Start launches its worker; entries enqueued before Start are
// forwarded once it runs.
func NewBufferedTransport(next Transport, highWaterMark int) *BufferedTransport {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &BufferedTransport{
		next:  next,
		queue: make(chan bufferedEntry, highWaterMark),
		done:  make(chan struct{}),
	}
}

// Start launches the background worker. Starting twice or after Close is a
// no-op.
func (t *BufferedTransport) Start() *BufferedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return t
	}
	t.started = true
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *BufferedTransport) run() {
	defer t.wg.Done()
	for {
		select {
		case e := <-t.queue:
			t.forward(e)
		case <-t.done:
			// Drain what is left, then stop.
			for {
				select {
				case e := <-t.queue:
					t.forward(e)
				default:
					return
				}
			}
		}
	}
}

func (t *BufferedTransport) forward(e bufferedEntry) {
	defer func() {
		// A panicking sink must not kill the worker.
		recover() //nolint:errcheck
	}()
	t.next.Log(e.rec, e.line) //nolint:errcheck
}

// Log enqueues the entry without blocking. When the queue is full, the
// oldest entry is evicted (counted in Dropped) to make room.
func (t *BufferedTransport) Log(rec *Record, line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("buffered transport is closed")
	}
	e := bufferedEntry{rec: rec.Clone(), line: append([]byte(nil), line...)}
	for {
		select {
		case t.queue <- e:
			return nil
		default:
		}
		// Full: evict the oldest and retry. The worker may race us for the
		// head, in which case the retry simply succeeds.
		select {
		case old := <-t.queue:
			t.dropped++
			if t.onDrop != nil {
				t.onDrop(old.rec)
			}
		default:
		}
	}
}

// Dropped returns how many entries were evicted so far. At any point
// dropped + retained (queued or forwarded) equals the total produced.
func (t *BufferedTransport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// OnDrop registers a callback invoked with each evicted record (for
// accounting or diagnostics). Must be set before concurrent use.
func (t *BufferedTransport) OnDrop(fn func(rec *Record)) *BufferedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDrop = fn
	return t
}

// Close drains the queue, stops the worker and closes the wrapped transport
// if it is closable. Safe to call more than once.
func (t *BufferedTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	t.mu.Unlock()

	if started {
		close(t.done)
		t.wg.Wait()
	} else {
		// Never started: flush synchronously so queued entries are not lost.
		for draining := true; draining; {
			select {
			case e := <-t.queue:
				t.forward(e)
			default:
				draining = false
			}
		}
	}
	if c, ok := t.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// queued returns a snapshot of the not-yet-forwarded entries, oldest first.
// Test hook: meaningful only while the worker is not running.
func (t *BufferedTransport) queued() []bufferedEntry {
	out := make([]bufferedEntry, 0, len(t.queue))
	for {
		select {
		case e := <-t.queue:
			out = append(out, e)
		default:
			for _, e := range out {
				t.queue <- e
			}
			return out
		}
	}
}
