package scribelog

import (
	"time"
)

/*
Defines the unit of data flowing through the pipeline:
  - Fields: arbitrary key/value metadata with merge helpers
  - Record: one log entry (level, message, timestamp, splat, error, fields)
  - the splat-vs-metadata argument heuristic used by the Log call
*/

// Fields holds arbitrary key/value metadata attached to a record.
type Fields map[string]any

// Merge returns a new Fields with other merged over f (other wins on key
// conflict). Either side may be nil.
func (f Fields) Merge(other Fields) Fields {
	out := make(Fields, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of f; nil stays nil.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// fill copies src keys into f only where f has no value yet. Returns f
// (allocating when f is nil) so callers can chain it.
func (f Fields) fill(src Fields) Fields {
	if len(src) == 0 {
		return f
	}
	if f == nil {
		f = make(Fields, len(src))
	}
	for k, v := range src {
		if _, ok := f[k]; !ok {
			f[k] = v
		}
	}
	return f
}

// Record is a single log entry as it flows through the format pipeline and
// out to transports. Level and Message are always set by the time a record
// leaves the dispatcher; Time defaults to record-creation time.
type Record struct {
	Time    time.Time
	Level   string
	Message string

	// Err is the error attached to the record, either passed explicitly or
	// promoted from an error used as the message.
	Err error

	// Splat carries extra positional arguments for printf-style
	// interpolation (see FormatSplat).
	Splat []any

	// Tags carries free-form classification labels; the profiler uses them
	// for its tag-composition policy.
	Tags []string

	Fields Fields
}

// Clone returns a copy of the record with its own Fields map. Splat and Tags
// share backing arrays; stages that rewrite them must replace the slices.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = r.Fields.Clone()
	return &out
}

// splitArgs implements the documented trailing-argument heuristic: the last
// positional argument is call-site metadata if and only if it is a plain
// mapping (Fields or map[string]any) — never an error, slice/array value or
// time.Time, which all stay positional. Everything before it becomes splat.
func splitArgs(args []any) (splat []any, meta Fields) {
	if len(args) == 0 {
		return nil, nil
	}
	switch last := args[len(args)-1].(type) {
	case Fields:
		meta = last
		args = args[:len(args)-1]
	case map[string]any:
		meta = Fields(last)
		args = args[:len(args)-1]
	}
	if len(args) > 0 {
		splat = args
	}
	return splat, meta
}

// messageOf converts a message value to its textual form. An error message
// is substituted by its Error() text and returned separately so the
// dispatcher can retain it on the record for the pipeline to expand.
func messageOf(msg any) (text string, err error) {
	switch m := msg.(type) {
	case string:
		return m, nil
	case error:
		if m == nil {
			return "", nil
		}
		return m.Error(), m
	case nil:
		return "", nil
	default:
		return stringify(m), nil
	}
}
