package scribelog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

/*
File-based configuration. The on-disk shape is deliberately flatter than
Options: durations are strings ("250ms"), formats and transports are named,
and everything converts through FileConfig.Options so programmatic and
file-driven construction share one code path.
*/

// FileConfig is the declarative logger configuration read by LoadConfig.
// The format is chosen by file extension: .yaml/.yml or .toml.
type FileConfig struct {
	Level       string            `yaml:"level" toml:"level"`
	Format      string            `yaml:"format" toml:"format"`
	Levels      map[string]int    `yaml:"levels" toml:"levels"`
	DefaultMeta map[string]any    `yaml:"default_meta" toml:"default_meta"`
	RateLimit   *RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Profiler    *ProfilerConfig   `yaml:"profiler" toml:"profiler"`
	Transports  []TransportConfig `yaml:"transports" toml:"transports"`
	ExitOnError *bool             `yaml:"exit_on_error" toml:"exit_on_error"`
}

// RateLimitConfig mirrors RateLimit with a string window.
type RateLimitConfig struct {
	MaxPerSecond int    `yaml:"max_per_second" toml:"max_per_second"`
	Window       string `yaml:"window" toml:"window"`
}

// ProfilerConfig mirrors ProfilerOptions; durations are strings and the
// tags mode is named ("append", "prepend", "replace").
type ProfilerConfig struct {
	Level           string         `yaml:"level" toml:"level"`
	ThresholdWarn   string         `yaml:"threshold_warn" toml:"threshold_warn"`
	ThresholdError  string         `yaml:"threshold_error" toml:"threshold_error"`
	TTL             string         `yaml:"ttl" toml:"ttl"`
	CleanupInterval string         `yaml:"cleanup_interval" toml:"cleanup_interval"`
	MaxActive       int            `yaml:"max_active" toml:"max_active"`
	Tags            []string       `yaml:"tags" toml:"tags"`
	TagsMode        string         `yaml:"tags_mode" toml:"tags_mode"`
	Fields          map[string]any `yaml:"fields" toml:"fields"`
}

// TransportConfig describes one sink. Type is "stdout", "stderr", "file"
// (Path required, opened append) or "memory". A positive Buffer wraps the
// sink in a started BufferedTransport of that capacity.
type TransportConfig struct {
	Type   string `yaml:"type" toml:"type"`
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Path   string `yaml:"path" toml:"path"`
	Buffer int    `yaml:"buffer" toml:"buffer"`
}

// LoadConfig reads and converts a configuration file into Options, ready
// for New or UpdateOptions.
func LoadConfig(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "read config %s", path)
	}
	var fc FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Options{}, errors.Wrapf(err, "parse yaml config %s", path)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &fc); err != nil {
			return Options{}, errors.Wrapf(err, "parse toml config %s", path)
		}
	default:
		return Options{}, errors.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", ext)
	}
	return fc.Options()
}

// Options converts the file shape into the programmatic one. Unknown
// format or transport names are errors here, not warnings: a config file
// that names a renderer that does not exist is a deployment mistake worth
// failing loudly on.
func (fc FileConfig) Options() (Options, error) {
	opts := Options{
		Level:       fc.Level,
		Levels:      fc.Levels,
		DefaultMeta: Fields(fc.DefaultMeta),
		ExitOnError: fc.ExitOnError,
	}
	if fc.Format != "" {
		f, ok := FormatByName(fc.Format)
		if !ok {
			return Options{}, errors.Errorf("unknown format %q", fc.Format)
		}
		opts.Format = f
	}
	if fc.RateLimit != nil {
		window, err := optionalDuration(fc.RateLimit.Window, "rate_limit.window")
		if err != nil {
			return Options{}, err
		}
		opts.RateLimit = &RateLimit{MaxPerSecond: fc.RateLimit.MaxPerSecond, Window: window}
	}
	if fc.Profiler != nil {
		p, err := fc.Profiler.options()
		if err != nil {
			return Options{}, err
		}
		opts.Profiler = p
	}
	for _, tc := range fc.Transports {
		t, err := tc.build()
		if err != nil {
			return Options{}, err
		}
		opts.Transports = append(opts.Transports, t)
	}
	return opts, nil
}

func (pc ProfilerConfig) options() (*ProfilerOptions, error) {
	warn, err := optionalDuration(pc.ThresholdWarn, "profiler.threshold_warn")
	if err != nil {
		return nil, err
	}
	errThresh, err := optionalDuration(pc.ThresholdError, "profiler.threshold_error")
	if err != nil {
		return nil, err
	}
	ttl, err := optionalDuration(pc.TTL, "profiler.ttl")
	if err != nil {
		return nil, err
	}
	interval, err := optionalDuration(pc.CleanupInterval, "profiler.cleanup_interval")
	if err != nil {
		return nil, err
	}
	mode, err := parseTagsMode(pc.TagsMode)
	if err != nil {
		return nil, err
	}
	return &ProfilerOptions{
		Level:             pc.Level,
		ThresholdWarn:     warn,
		ThresholdError:    errThresh,
		TTL:               ttl,
		CleanupInterval:   interval,
		MaxActiveProfiles: pc.MaxActive,
		TagsDefault:       pc.Tags,
		TagsMode:          mode,
		FieldsDefault:     Fields(pc.Fields),
	}, nil
}

func (tc TransportConfig) build() (Transport, error) {
	var format Format
	if tc.Format != "" {
		f, ok := FormatByName(tc.Format)
		if !ok {
			return nil, errors.Errorf("unknown transport format %q", tc.Format)
		}
		format = f
	}
	var inner Transport
	switch strings.ToLower(tc.Type) {
	case "stdout", "console":
		inner = NewWriterTransport(os.Stdout, tc.Level, format)
	case "stderr":
		inner = NewWriterTransport(os.Stderr, tc.Level, format)
	case "file":
		if tc.Path == "" {
			return nil, errors.New("file transport requires a path")
		}
		f, err := os.OpenFile(tc.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", tc.Path)
		}
		inner = NewWriterTransport(f, tc.Level, format)
	case "memory":
		inner = NewMemoryTransportAt(tc.Level)
	default:
		return nil, errors.Errorf("unknown transport type %q", tc.Type)
	}
	if tc.Buffer > 0 {
		bt := NewBufferedTransport(inner, tc.Buffer)
		bt.Start()
		return bt, nil
	}
	return inner, nil
}

func parseTagsMode(name string) (TagsMode, error) {
	switch strings.ToLower(name) {
	case "", "append":
		return TagsAppend, nil
	case "prepend":
		return TagsPrepend, nil
	case "replace":
		return TagsReplace, nil
	default:
		return TagsAppend, errors.Errorf("unknown tags mode %q", name)
	}
}

func optionalDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", field)
	}
	return d, nil
}
