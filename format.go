package scribelog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

/*
The format pipeline: an ordered chain of pure stages transforming a mutable
record. A stage either mutates the record and returns nil (continue) or
renders it to its final byte form (short-circuit: later stages are skipped).
Renderers for JSON, logfmt, plain text and colored console output are
provided; a logger whose chain never renders falls back to JSON.
*/

// Format is one stage of the pipeline. Returning nil means "record mutated
// in place, continue with the next stage"; returning bytes is the final
// rendered output and short-circuits the remaining stages.
type Format func(r *Record) []byte

// ChainFormats composes stages into one Format applied sequentially. The
// first stage to render wins; if none renders, the chain itself returns nil
// and the dispatcher falls back to FormatJSON.
func ChainFormats(stages ...Format) Format {
	return func(r *Record) []byte {
		for _, stage := range stages {
			if stage == nil {
				continue
			}
			if line := stage(r); line != nil {
				return line
			}
		}
		return nil
	}
}

// DefaultTimeLayout is the timestamp layout used by the built-in renderers.
const DefaultTimeLayout = "2006-01-02 15:04:05.000"

// timestampField is where FormatTimestamp stores the pre-rendered time.
const timestampField = "timestamp"

// FormatTimestamp renders the record time into the "timestamp" field using
// the given layout (DefaultTimeLayout when empty). Renderers prefer this
// field over formatting Record.Time themselves.
func FormatTimestamp(layout string) Format {
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return func(r *Record) []byte {
		if r.Fields == nil {
			r.Fields = make(Fields, 1)
		}
		r.Fields[timestampField] = r.Time.Format(layout)
		return nil
	}
}

// FormatSplat interpolates the splat arguments into the message with
// fmt.Sprintf semantics and clears them from the record. A message without
// format verbs gets the splat values appended fmt.Sprintln-style instead;
// literal percents ("90% full", "%%") do not count as verbs.
func FormatSplat() Format {
	return func(r *Record) []byte {
		if len(r.Splat) == 0 {
			return nil
		}
		if hasFormatVerb(r.Message) {
			r.Message = fmt.Sprintf(r.Message, r.Splat...)
		} else {
			parts := make([]string, 0, len(r.Splat)+1)
			parts = append(parts, r.Message)
			for _, v := range r.Splat {
				parts = append(parts, stringify(v))
			}
			r.Message = strings.Join(parts, " ")
		}
		r.Splat = nil
		return nil
	}
}

// FormatErrorDetail expands an attached error into fields: its message under
// "error" and its concrete type under "error_type". Existing field values
// are left alone so explicit caller metadata always wins.
func FormatErrorDetail() Format {
	return func(r *Record) []byte {
		if r.Err == nil {
			return nil
		}
		r.Fields = r.Fields.fill(Fields{
			"error":      r.Err.Error(),
			"error_type": fmt.Sprintf("%T", r.Err),
		})
		return nil
	}
}

// FormatJSON renders the record as a single-line JSON object. This is the
// fallback renderer when a logger's chain never produces output.
func FormatJSON() Format {
	return func(r *Record) []byte {
		data := make(map[string]any, len(r.Fields)+5)
		for k, v := range r.Fields {
			data[k] = v
		}
		if _, ok := data[timestampField]; !ok {
			data[timestampField] = r.Time.Format(time.RFC3339Nano)
		}
		data["level"] = r.Level
		data["message"] = r.Message
		if r.Err != nil {
			if _, ok := data["error"]; !ok {
				data["error"] = r.Err.Error()
			}
		}
		if len(r.Splat) > 0 {
			data["splat"] = r.Splat
		}
		if len(r.Tags) > 0 {
			data["tags"] = r.Tags
		}
		line, err := json.Marshal(data)
		if err != nil {
			// Unmarshalable field value; degrade rather than drop the record.
			line, _ = json.Marshal(map[string]any{
				"level":   r.Level,
				"message": r.Message,
				"error":   "scribelog: record not representable as JSON: " + err.Error(),
			})
		}
		return append(line, '\n')
	}
}

// FormatLogfmt renders the record as key=value pairs, fields sorted by key
// for stable output.
func FormatLogfmt() Format {
	return func(r *Record) []byte {
		var b bytes.Buffer
		writePair(&b, "time", r.Time.Format(time.RFC3339))
		writePair(&b, "level", r.Level)
		writePair(&b, "msg", r.Message)
		if r.Err != nil {
			writePair(&b, "error", r.Err.Error())
		}
		for _, k := range sortedKeys(r.Fields) {
			if k == timestampField {
				continue
			}
			writePair(&b, k, stringify(r.Fields[k]))
		}
		if len(r.Tags) > 0 {
			writePair(&b, "tags", strings.Join(r.Tags, ","))
		}
		b.WriteByte('\n')
		return b.Bytes()
	}
}

// FormatText renders a human-readable line:
// timestamp LEVEL message {k=v ...}
func FormatText() Format {
	return func(r *Record) []byte {
		var b bytes.Buffer
		b.WriteString(timestampOf(r, DefaultTimeLayout))
		b.WriteByte(' ')
		b.WriteString(strings.ToUpper(r.Level))
		b.WriteByte(' ')
		b.WriteString(r.Message)
		appendFieldsText(&b, r)
		b.WriteByte('\n')
		return b.Bytes()
	}
}

// ANSI colored text fragments: for a colored piece of text the sequence is
// ansiPrefix + colorSpec + ansiSuffix + text + ansiReset.
const (
	ansiPrefix = "\033["
	ansiSuffix = "m"
	ansiReset  = ansiPrefix + "0" + ansiSuffix
)

// levelColors maps standard level names to ANSI color specs for console
// output. Custom levels render uncolored.
var levelColors = map[string]string{
	LevelError: "0;91",
	LevelWarn:  "0;33",
	LevelInfo:  "0;97",
	LevelDebug: "0;90",
	LevelTrace: "2;90",
}

// FormatConsole renders a colorized line for terminals: the level tag is
// wrapped in its ANSI color, fields are appended as k=v pairs.
func FormatConsole() Format {
	return func(r *Record) []byte {
		var b bytes.Buffer
		b.WriteString(timestampOf(r, DefaultTimeLayout))
		b.WriteByte(' ')
		if spec, ok := levelColors[r.Level]; ok {
			b.WriteString(ansiPrefix + spec + ansiSuffix)
			b.WriteString(strings.ToUpper(r.Level))
			b.WriteString(ansiReset)
		} else {
			b.WriteString(strings.ToUpper(r.Level))
		}
		b.WriteByte(' ')
		b.WriteString(r.Message)
		appendFieldsText(&b, r)
		b.WriteByte('\n')
		return b.Bytes()
	}
}

// FormatByName resolves a built-in renderer by its config/CLI name
// ("json", "logfmt", "text", "console"); an empty name means JSON.
func FormatByName(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "":
		return FormatJSON(), true
	case "logfmt":
		return FormatLogfmt(), true
	case "text":
		return FormatText(), true
	case "console":
		return FormatConsole(), true
	}
	return nil, false
}

// hasFormatVerb reports whether the message contains a printf verb: a '%'
// followed (after optional flag/width/precision characters) by a letter.
// "%%" escapes and bare percents ("90% full", trailing "%") do not count.
func hasFormatVerb(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		i++
		if i < len(s) && s[i] == '%' {
			continue
		}
		for i < len(s) && strings.ContainsRune("+-#0123456789.", rune(s[i])) {
			i++
		}
		if i < len(s) {
			c := s[i]
			if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
				return true
			}
		}
	}
	return false
}

func timestampOf(r *Record, layout string) string {
	if ts, ok := r.Fields[timestampField].(string); ok {
		return ts
	}
	return r.Time.Format(layout)
}

func appendFieldsText(b *bytes.Buffer, r *Record) {
	if r.Err != nil {
		b.WriteString(" error=")
		b.WriteString(quoteIfNeeded(r.Err.Error()))
	}
	for _, k := range sortedKeys(r.Fields) {
		if k == timestampField {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(stringify(r.Fields[k])))
	}
	if len(r.Tags) > 0 {
		b.WriteString(" tags=")
		b.WriteString(strings.Join(r.Tags, ","))
	}
}

func writePair(b *bytes.Buffer, k, v string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(k)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(v))
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}

func sortedKeys(f Fields) []string {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
