// A structured, levelled logging package for Go. Provides a composable
// format pipeline, multiple output transports with per-transport filtering,
// runtime reconfiguration, request-scoped correlation ids and a lightweight
// operation-timing (profiling) facility.
package scribelog

import (
	"encoding"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// Levels is a named-priority table: level name to integer priority, where a
// LOWER value means MORE severe. A logger set to threshold T emits records
// whose priority is <= the priority of T.
type Levels map[string]int

// Standard level names. Named convenience methods exist only for these;
// any custom level goes through the generic Log call.
const (
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

// DefaultLevels is the built-in priority table. User-supplied tables are
// merged over it at construction (see newLevelSet).
var DefaultLevels = Levels{
	LevelError: 0,
	LevelWarn:  1,
	LevelInfo:  2,
	LevelDebug: 3,
	LevelTrace: 4,
}

// newLevelSet merges user overrides over the built-in defaults and returns a
// fresh table. The result is never empty: if both inputs somehow degrade to
// nothing, a single error:0 entry is kept so every logger can always emit
// errors (floor invariant).
//
// The returned map must be treated as immutable once bound to a logger;
// child loggers share the same reference to guarantee parent/child
// consistency.
func newLevelSet(overrides Levels) Levels {
	set := make(Levels, len(DefaultLevels)+len(overrides))
	for name, prio := range DefaultLevels {
		set[name] = prio
	}
	for name, prio := range overrides {
		if name == "" || prio < 0 {
			continue
		}
		set[name] = prio
	}
	if len(set) == 0 {
		set[LevelError] = 0
	}
	return set
}

// Has reports whether the level name is known to the table.
func (ls Levels) Has(level string) bool {
	_, ok := ls[level]
	return ok
}

// enabled reports whether a record at level should be emitted under the
// given threshold. Unknown names on either side disable emission.
func (ls Levels) enabled(level, threshold string) bool {
	lp, ok := ls[level]
	if !ok {
		return false
	}
	tp, ok := ls[threshold]
	if !ok {
		return false
	}
	return lp <= tp
}

// Names returns the level names ordered by priority (most severe first),
// ties broken alphabetically. Used by the demo CLI for help output.
func (ls Levels) Names() []string {
	names := make([]string, 0, len(ls))
	for name := range ls {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if ls[names[i]] != ls[names[j]] {
			return ls[names[i]] < ls[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// LevelValue is a level name validated against the default level set. It
// implements pflag.Value and encoding.TextUnmarshaler so it can be bound
// directly to CLI flags and config files.
type LevelValue string

var (
	_ pflag.Value              = (*LevelValue)(nil)
	_ encoding.TextUnmarshaler = (*LevelValue)(nil)
)

func (v *LevelValue) String() string { return string(*v) }

// Set validates and stores the level name. Matching is case-insensitive.
func (v *LevelValue) Set(s string) error {
	name := strings.ToLower(strings.TrimSpace(s))
	if !DefaultLevels.Has(name) {
		return errUnknownLevel(s)
	}
	*v = LevelValue(name)
	return nil
}

func (v *LevelValue) Type() string { return "level" }

func (v *LevelValue) UnmarshalText(text []byte) error {
	return v.Set(string(text))
}

type unknownLevelError string

func errUnknownLevel(name string) error { return unknownLevelError(name) }

func (e unknownLevelError) Error() string {
	return "unknown log level " + `"` + string(e) + `"` +
		" (known: " + strings.Join(DefaultLevels.Names(), ", ") + ")"
}
