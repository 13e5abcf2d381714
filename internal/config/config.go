// Package config loads the statewatch configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/ingest"
	"git.home.luguber.info/inful/statewatch/internal/watch"
)

// Config is the full daemon configuration.
type Config struct {
	Watch   watch.Config      `yaml:"watch"`
	Ingest  ingest.Config     `yaml:"ingest"`
	Extract ExtractConfig     `yaml:"extract"`
	Events  events.Thresholds `yaml:"events"`
	Store   StoreConfig       `yaml:"store"`
	Server  ServerConfig      `yaml:"server"`
	Publish PublishConfig     `yaml:"publish"`
	Rescan  RescanConfig      `yaml:"rescan"`
	Log     LogConfig         `yaml:"log"`
}

// ExtractConfig bounds the list-valued parts of full extraction.
type ExtractConfig struct {
	Limits extract.Tier2Options `yaml:"limits"`
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// Enabled gates the whole HTTP surface.
	Enabled bool `yaml:"enabled"`
}

// PublishConfig configures the optional NATS event publisher.
type PublishConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// RescanConfig configures the periodic directory sweep.
type RescanConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Watch:   watch.DefaultConfig(),
		Ingest:  ingest.DefaultConfig(),
		Store:   StoreConfig{Path: "statewatch.db"},
		Server:  ServerConfig{Addr: ":8484", Enabled: true},
		Publish: PublishConfig{Subject: "statewatch.events"},
		Rescan:  RescanConfig{Interval: 5 * time.Minute},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional), layers STATEWATCH_* environment overrides on
// top, and validates the result. A .env file in the working directory is
// honored without overriding the process environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps the supported STATEWATCH_* variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("STATEWATCH_SAVE_DIRS"); v != "" {
		var dirs []string
		for _, d := range strings.Split(v, string(os.PathListSeparator)) {
			if d = strings.TrimSpace(d); d != "" {
				dirs = append(dirs, d)
			}
		}
		cfg.Watch.Dirs = dirs
	}
	if v := os.Getenv("STATEWATCH_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("STATEWATCH_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STATEWATCH_NATS_URL"); v != "" {
		cfg.Publish.URL = v
		cfg.Publish.Enabled = true
	}
	if v := os.Getenv("STATEWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STATEWATCH_TIER2_IDLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.Tier2IdleDelay = d
		}
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if len(c.Watch.Dirs) == 0 {
		return fmt.Errorf("config: at least one watch directory is required (watch.dirs or STATEWATCH_SAVE_DIRS)")
	}
	for _, dir := range c.Watch.Dirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("config: empty watch directory")
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	if c.Publish.Enabled && c.Publish.URL == "" {
		return fmt.Errorf("config: publish.url is required when publishing is enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
