// Package config loads the TOML service configuration shared by the
// Agent and Collector binaries, following the teacher's pattern of a
// single Config struct with a Duration wrapper, defaulting pass, and
// validation pass.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML string values like "10s" or
// "5m" parse directly via UnmarshalText, matching the teacher's own
// CollectConfig.Interval field.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	return nil
}

// Config is the full set of options from spec §6.5, shared by both
// binaries; a Collector additionally reads Registry.Path, which an
// Agent ignores (it has no host registry of its own to persist).
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Poll     PollConfig     `toml:"poll"`
	Store    StoreConfig    `toml:"store"`
	Control  ControlConfig  `toml:"control"`
	Registry RegistryConfig `toml:"registry"`
	Runtime  RuntimeConfig  `toml:"runtime"`
}

type ServerConfig struct {
	Port int `toml:"port"`
}

type PollConfig struct {
	Interval     Duration `toml:"pollInterval"`
	TrimInterval Duration `toml:"trimInterval"`
}

type StoreConfig struct {
	RetentionWindow Duration `toml:"retentionWindow"`
}

type ControlConfig struct {
	Enabled        bool     `toml:"enableContainerControls"`
	AllowedActions []string `toml:"allowedControlActions"`
}

type RegistryConfig struct {
	Path string `toml:"path"`
}

// RuntimeConfig configures the local container-runtime endpoint an
// Agent binds to; a Collector ignores this and dials per-host URLs
// from its Registry instead.
type RuntimeConfig struct {
	Socket string `toml:"socket"`
}

// Role distinguishes the two binaries for default selection (§6.5:
// retentionHours defaults differ between Agent and Collector).
type Role string

const (
	RoleAgent     Role = "agent"
	RoleCollector Role = "collector"
)

// Load reads and validates the TOML config at path for the given
// role. A missing file is not an error: defaults alone produce a
// valid configuration, matching the teacher's pattern of a config
// file being optional scaffolding rather than a hard requirement.
func Load(path string, role Role) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	setDefaults(cfg, role)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config, role Role) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Poll.Interval.Duration == 0 {
		cfg.Poll.Interval.Duration = 10 * time.Second
	}
	if cfg.Poll.TrimInterval.Duration == 0 {
		cfg.Poll.TrimInterval.Duration = 5 * time.Minute
	}
	if cfg.Store.RetentionWindow.Duration == 0 {
		if role == RoleAgent {
			cfg.Store.RetentionWindow.Duration = 6 * time.Hour
		} else {
			cfg.Store.RetentionWindow.Duration = 24 * time.Hour
		}
	}
	if len(cfg.Control.AllowedActions) == 0 {
		cfg.Control.AllowedActions = []string{"start", "stop", "restart", "pause", "unpause"}
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "/var/lib/container-telemetry/registry.json"
	}
	if cfg.Runtime.Socket == "" {
		cfg.Runtime.Socket = "unix:///var/run/docker.sock"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", cfg.Server.Port)
	}
	if cfg.Poll.Interval.Duration < time.Second {
		return fmt.Errorf("poll.pollInterval must be >= 1s, got %s", cfg.Poll.Interval.Duration)
	}
	if cfg.Store.RetentionWindow.Duration < time.Hour {
		return fmt.Errorf("store.retentionWindow must be >= 1h, got %s", cfg.Store.RetentionWindow.Duration)
	}
	for _, a := range cfg.Control.AllowedActions {
		switch a {
		case "start", "stop", "restart", "pause", "unpause":
		default:
			return fmt.Errorf("control.allowedControlActions: unknown action %q", a)
		}
	}
	return nil
}

// PollInterval returns the configured poll interval.
func (c *Config) PollInterval() time.Duration {
	return c.Poll.Interval.Duration
}

// TrimInterval returns the configured trim cadence.
func (c *Config) TrimInterval() time.Duration {
	return c.Poll.TrimInterval.Duration
}

// RetentionWindow returns the configured store retention.
func (c *Config) RetentionWindow() time.Duration {
	return c.Store.RetentionWindow.Duration
}

// ActionAllowed reports whether verb is in the configured allow-list.
func (c *Config) ActionAllowed(verb string) bool {
	for _, a := range c.Control.AllowedActions {
		if a == verb {
			return true
		}
	}
	return false
}
