// Package config loads offsync configuration from a TOML file and
// OFFSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/iudanet/offsync/internal/validation"
)

// Поддерживаемые хранилища
const (
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

const envPrefix = "OFFSYNC_"

var (
	ErrInvalidStore     = errors.New("invalid store")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrEmptyServerURL   = errors.New("server url is required")
)

// Duration is a time.Duration written as a string ("5m", "30s") in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Phase is one step of the snapshot download plan.
type Phase struct {
	Collection  string `toml:"collection"`
	Message     string `toml:"message,omitempty"`
	Field       string `toml:"field,omitempty"`
	Source      string `toml:"source,omitempty"`
	SourceField string `toml:"source_field,omitempty"`
}

// Config represents the CLI configuration stored in ~/.offsync/config.toml.
type Config struct {
	ServerURL     string   `toml:"server_url"`
	DBPath        string   `toml:"db_path"`
	Store         string   `toml:"store"`
	LogLevel      string   `toml:"log_level"`
	LogFormat     string   `toml:"log_format"`
	MetricsAddr   string   `toml:"metrics_addr"`
	Resources     []string `toml:"resources"` // ресурсы, для которых регистрируется HTTP executor
	Phases        []Phase  `toml:"phases,omitempty"`
	MaxRetries    int      `toml:"max_retries"`
	SyncInterval  Duration `toml:"sync_interval"`
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:     "http://localhost:8080",
		DBPath:        "offsync.db",
		Store:         StoreBolt,
		LogLevel:      "warn",
		LogFormat:     "text",
		Resources:     []string{"lists", "list_items", "products", "baskets", "basket_items"},
		MaxRetries:    3,
		SyncInterval:  Duration(5 * time.Minute),
		ProbeInterval: Duration(30 * time.Second),
		ProbeTimeout:  Duration(5 * time.Second),
	}
}

// DefaultPath returns ~/.offsync/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".offsync", "config.toml"), nil
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from OFFSYNC_* variables resolved by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		return nil
	}

	str("SERVER_URL", &c.ServerURL)
	str("DB_PATH", &c.DBPath)
	str("STORE", &c.Store)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup(envPrefix + "RESOURCES"); ok {
		c.Resources = splitList(v)
	}
	if v, ok := lookup(envPrefix + "MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_RETRIES: %w", envPrefix, err)
		}
		c.MaxRetries = n
	}

	if err := dur("SYNC_INTERVAL", &c.SyncInterval); err != nil {
		return err
	}
	if err := dur("PROBE_INTERVAL", &c.ProbeInterval); err != nil {
		return err
	}
	return dur("PROBE_TIMEOUT", &c.ProbeTimeout)
}

// Validate checks enumerations and required fields.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return ErrEmptyServerURL
	}
	switch c.Store {
	case StoreBolt, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("%w %q (valid: bolt, sqlite, memory)", ErrInvalidStore, c.Store)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w %q (valid: text, json)", ErrInvalidLogFormat, c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	for _, resource := range c.Resources {
		if err := validation.ValidateIdentifier("resource", resource); err != nil {
			return err
		}
	}
	for _, p := range c.Phases {
		if err := validation.ValidateIdentifier("phase collection", p.Collection); err != nil {
			return err
		}
		// зависимая фаза задаётся тремя полями сразу
		if p.Field == "" && p.Source == "" && p.SourceField == "" {
			continue
		}
		if err := validation.ValidateIdentifier("phase field", p.Field); err != nil {
			return err
		}
		if err := validation.ValidateIdentifier("phase source", p.Source); err != nil {
			return err
		}
		if err := validation.ValidateIdentifier("phase source_field", p.SourceField); err != nil {
			return err
		}
	}
	return nil
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidLogLevel, s)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
