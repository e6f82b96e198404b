// Package config loads the weft server configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/weft/internal/engine"
	"github.com/roach88/weft/internal/lock"
	"github.com/roach88/weft/internal/store"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Lock    LockConfig    `yaml:"lock"`
	Store   StoreConfig   `yaml:"store"`
	Hashing HashingConfig `yaml:"hashing"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LockConfig configures the function lock manager.
type LockConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Shards        int           `yaml:"shards"`
}

// StoreConfig configures snapshot persistence. An empty Path disables it.
// Keep is how many snapshots per label and mode snapshot prune retains.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	SnapshotLabel string        `yaml:"snapshot_label"`
	BusyTimeout   time.Duration `yaml:"busy_timeout"`
	Keep          int           `yaml:"keep"`
}

// HashingConfig configures snapshot hashing. Workers < 1 means GOMAXPROCS.
type HashingConfig struct {
	Workers int `yaml:"workers"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Address: "127.0.0.1:7411"},
		Lock: LockConfig{
			TTL:           lock.DefaultTTL,
			SweepInterval: 30 * time.Second,
			Shards:        lock.DefaultShards,
		},
		Store: StoreConfig{
			Path:          "weft.db",
			SnapshotLabel: engine.DefaultSnapshotLabel,
			BusyTimeout:   store.DefaultBusyTimeout,
			Keep:          10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path on top of Default. An empty path returns Default.
// Unknown keys are rejected so typos surface instead of silently applying
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data on top of Default and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, fmt.Errorf("lock.ttl must be positive, got %s", c.Lock.TTL))
	}
	if c.Lock.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("lock.sweep_interval must be positive, got %s", c.Lock.SweepInterval))
	}
	if c.Lock.Shards < 1 {
		errs = append(errs, fmt.Errorf("lock.shards must be at least 1, got %d", c.Lock.Shards))
	}
	if c.Store.SnapshotLabel == "" {
		errs = append(errs, errors.New("store.snapshot_label is required"))
	}
	if c.Store.BusyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store.busy_timeout must be positive, got %s", c.Store.BusyTimeout))
	}
	if c.Store.Keep < 1 {
		errs = append(errs, fmt.Errorf("store.keep must be at least 1, got %d", c.Store.Keep))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}

// NewLogger builds the process logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}
