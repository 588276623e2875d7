// Package config loads tabtriage settings from a YAML file with
// environment-variable overrides, and exposes the current value through
// a Store that notifies subscribers on change instead of letting
// components read mutable process-wide state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals from YAML strings like "300s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"300s\"")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all tabtriage settings.
type Config struct {
	// Host and Port the API server binds to.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DBPath is the sqlite database file.
	DBPath string `yaml:"db_path"`

	// LogDir receives the applog file.
	LogDir string `yaml:"log_dir"`

	// SummarizeCommand is the external AI CLI invoked per tab.
	// The prompt is written to its stdin.
	SummarizeCommand []string `yaml:"summarize_command"`

	// SummarizeTimeout bounds one summarization subprocess.
	SummarizeTimeout Duration `yaml:"summarize_timeout"`

	// MaxContentLength truncates extracted page text before storage.
	MaxContentLength int `yaml:"max_content_length"`

	// DedupWindow is how long a captured URL suppresses re-capture.
	DedupWindow Duration `yaml:"dedup_window"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	share := filepath.Join(home, ".local", "share", "tabtriage")
	return Config{
		Host:             "127.0.0.1",
		Port:             5111,
		DBPath:           filepath.Join(share, "tabtriage.db"),
		LogDir:           share,
		SummarizeCommand: []string{"claude", "-p", "--output-format", "text"},
		SummarizeTimeout: Duration(300 * time.Second),
		MaxContentLength: 50000,
		DedupWindow:      Duration(24 * time.Hour),
	}
}

// Load reads the config file at path (if it exists), applies environment
// overrides, and validates the result. An empty path tries the default
// location ~/.config/tabtriage/tabtriage.yaml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".config", "tabtriage", "tabtriage.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if len(cfg.SummarizeCommand) == 0 {
		return cfg, fmt.Errorf("summarize_command must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TABTRIAGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("TABTRIAGE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TABTRIAGE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TABTRIAGE_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
}

// Addr returns the host:port the server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
