package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/debugmate/internal/classify"
	"github.com/dshills/debugmate/internal/memory"
	"github.com/dshills/debugmate/internal/render"
	"github.com/dshills/debugmate/internal/resolve"
)

// EnvPrefix prefixes environment overrides: DEBUGMATE_<SECTION>_<KEY>.
const EnvPrefix = "DEBUGMATE_"

// Config holds every tunable of the extraction pipeline.
type Config struct {
	Memory    MemoryConfig    `toml:"memory"`
	Resolve   ResolveConfig   `toml:"resolve"`
	Classify  ClassifyConfig  `toml:"classify"`
	Freshness FreshnessConfig `toml:"freshness"`
	Sync      SyncConfig      `toml:"sync"`
	Render    RenderConfig    `toml:"render"`
	Logging   LoggingConfig   `toml:"logging"`
}

// MemoryConfig tunes the memory reader.
type MemoryConfig struct {
	// ChunkSize is the largest single readMemory request in bytes.
	ChunkSize int `toml:"chunk_size"`

	// MaxConcurrency bounds parallel chunk requests. Zero means
	// min(GOMAXPROCS, 6).
	MaxConcurrency int `toml:"max_concurrency"`

	// FallbackBatch is the number of element evaluations per batch when
	// the adapter cannot read raw memory.
	FallbackBatch int `toml:"fallback_batch"`

	RequestTimeout Duration `toml:"request_timeout"`

	// MaxBytes rejects buffers larger than this before any read.
	MaxBytes int `toml:"max_bytes"`

	TolerateElementFailures bool `toml:"tolerate_element_failures"`
}

// ResolveConfig tunes address resolution.
type ResolveConfig struct {
	AttemptTimeout Duration `toml:"attempt_timeout"`
}

// ClassifyConfig tunes type classification.
type ClassifyConfig struct {
	ProbeTimeout Duration `toml:"probe_timeout"`
	MaxDimension int64    `toml:"max_dimension"`
	MaxElements  int64    `toml:"max_elements"`
}

// FreshnessConfig tunes the freshness cache.
type FreshnessConfig struct {
	// SampleBytes is the size of the memory prefix hashed into the token.
	SampleBytes int `toml:"sample_bytes"`
}

// SyncConfig tunes view synchronization.
type SyncConfig struct {
	ThrottleInterval Duration `toml:"throttle_interval"`
}

// RenderConfig tunes the render stream.
type RenderConfig struct {
	Compression string `toml:"compression"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string such as "750ms".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			ChunkSize:      1 << 20,
			FallbackBatch:  16,
			RequestTimeout: Duration(5 * time.Second),
			MaxBytes:       512 << 20,
		},
		Resolve: ResolveConfig{
			AttemptTimeout: Duration(1500 * time.Millisecond),
		},
		Classify: ClassifyConfig{
			ProbeTimeout: Duration(time.Second),
			MaxDimension: 1 << 20,
			MaxElements:  1 << 28,
		},
		Freshness: FreshnessConfig{SampleBytes: 64},
		Sync:      SyncConfig{ThrottleInterval: Duration(33 * time.Millisecond)},
		Render:    RenderConfig{Compression: string(render.CompressionLZ4)},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the file at path (skipped
// when path is empty) and DEBUGMATE_ environment variables, in increasing
// precedence, and validates the result.
func Load(path string) (*Config, error) {
	merged, err := defaultMap()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := NewFileLoader(path).Load()
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		merged = DeepMerge(merged, data)
	}

	env, err := NewEnvLoader(EnvPrefix).Load()
	if err != nil {
		return nil, err
	}
	merged = DeepMerge(merged, env)

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultMap renders Default as a generic map so files and environment can
// be layered over it.
func defaultMap() (map[string]any, error) {
	data, err := toml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return m, nil
}

// decode converts the merged map into a Config. Unknown keys are errors so
// that typos in a config file do not pass silently.
func decode(m map[string]any) (*Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Memory.ChunkSize <= 0:
		return invalid("memory.chunk_size", c.Memory.ChunkSize, "must be positive")
	case c.Memory.MaxConcurrency < 0 || c.Memory.MaxConcurrency > 16:
		return invalid("memory.max_concurrency", c.Memory.MaxConcurrency, "must be between 1 and 16, or 0 for automatic")
	case c.Memory.FallbackBatch <= 0:
		return invalid("memory.fallback_batch", c.Memory.FallbackBatch, "must be positive")
	case c.Memory.RequestTimeout <= 0:
		return invalid("memory.request_timeout", c.Memory.RequestTimeout.Std(), "must be positive")
	case c.Memory.MaxBytes <= 0:
		return invalid("memory.max_bytes", c.Memory.MaxBytes, "must be positive")
	case c.Resolve.AttemptTimeout <= 0:
		return invalid("resolve.attempt_timeout", c.Resolve.AttemptTimeout.Std(), "must be positive")
	case c.Classify.ProbeTimeout <= 0:
		return invalid("classify.probe_timeout", c.Classify.ProbeTimeout.Std(), "must be positive")
	case c.Classify.MaxDimension <= 0:
		return invalid("classify.max_dimension", c.Classify.MaxDimension, "must be positive")
	case c.Classify.MaxElements <= 0:
		return invalid("classify.max_elements", c.Classify.MaxElements, "must be positive")
	case c.Freshness.SampleBytes <= 0:
		return invalid("freshness.sample_bytes", c.Freshness.SampleBytes, "must be positive")
	case c.Sync.ThrottleInterval <= 0:
		return invalid("sync.throttle_interval", c.Sync.ThrottleInterval.Std(), "must be positive")
	}
	if _, err := render.ParseCompression(c.Render.Compression); err != nil {
		return invalid("render.compression", c.Render.Compression, err.Error())
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return invalid("logging.level", c.Logging.Level, err.Error())
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format", c.Logging.Format, `must be "text" or "json"`)
	}
	return nil
}

// ReaderConfig returns the memory reader configuration.
func (c *Config) ReaderConfig() memory.Config {
	return memory.Config{
		ChunkSize:               c.Memory.ChunkSize,
		MaxConcurrency:          c.Memory.MaxConcurrency,
		FallbackBatch:           c.Memory.FallbackBatch,
		RequestTimeout:          c.Memory.RequestTimeout.Std(),
		MaxBytes:                c.Memory.MaxBytes,
		TolerateElementFailures: c.Memory.TolerateElementFailures,
	}
}

// ClassifyOptions returns the classifier options.
func (c *Config) ClassifyOptions() []classify.Option {
	return []classify.Option{
		classify.WithProbeTimeout(c.Classify.ProbeTimeout.Std()),
		classify.WithAttemptTimeout(c.Resolve.AttemptTimeout.Std()),
		classify.WithLimits(c.Classify.MaxDimension, c.Classify.MaxElements),
	}
}

// ResolveOptions returns the resolver options.
func (c *Config) ResolveOptions() []resolve.Option {
	return []resolve.Option{resolve.WithAttemptTimeout(c.Resolve.AttemptTimeout.Std())}
}

// Compression returns the configured render compression.
func (c *Config) Compression() render.Compression {
	comp, _ := render.ParseCompression(c.Render.Compression)
	return comp
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// NewLogger builds the process logger writing to stderr.
func (l LoggingConfig) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
