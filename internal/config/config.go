// Package config loads the many-server configuration: a YAML file for
// static settings plus an environment-variable overlay (via
// kelseyhightower/envconfig) for the values that shouldn't live in a
// checked-in file. Only the HSM section (notably the PIN) is read from the
// environment; the bind address comes from the YAML file alone.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the many-server's full configuration.
type Config struct {
	// Origin is this server's own base URL. Validate requires it to be
	// set; the CLI's "server" subcommand does not read it.
	Origin string `yaml:"origin"`

	Server ServerConfig `yaml:"server"`
	Keys   KeysConfig   `yaml:"keys"`
	KVStore KVStoreConfig `yaml:"kvstore"`
	HSM    *HSMConfig    `yaml:"hsm,omitempty"`
	Async  AsyncConfig   `yaml:"async"`
	Log    LogConfig     `yaml:"log"`
}

// ServerConfig is the HTTP binding.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Addr returns the host:port pair net/http.Server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// KeysConfig locates the server's software signing key, when not using an
// HSM signer.
type KeysConfig struct {
	Private string `yaml:"private"` // PEM path
}

// KVStoreConfig configures the sample kvstore backend module.
type KVStoreConfig struct {
	// Path is the SQLite database file. Empty means use an in-memory
	// backend (suitable for tests and demos, not for production).
	Path string `yaml:"path"`
}

// HSMConfig configures the optional PKCS#11-backed signer. Nil Config.HSM
// means "use the software signer" instead.
type HSMConfig struct {
	ModulePath string `yaml:"module_path"`
	Slot       uint   `yaml:"slot"`
	KeyLabel   string `yaml:"key_label"`
	// PIN is sourced from the environment overlay (MANY_HSM_PIN), never
	// from the YAML file, so it never ends up checked into a config repo.
	PIN string `yaml:"-" envconfig:"MANY_HSM_PIN"`
}

// AsyncConfig configures deferred-result bookkeeping (SPEC_FULL.md 4.6, 5).
type AsyncConfig struct {
	TTLSeconds      int `yaml:"ttl_seconds"`
	PollIntervalSec int `yaml:"poll_interval_seconds"`
	PollBudget      int `yaml:"poll_budget"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a Config with the spec's stated defaults (30s HTTP
// timeout handled client-side; 1s poll interval, 60-attempt budget here).
func Default() *Config {
	return &Config{
		Origin: "http://127.0.0.1:8800",
		Server: ServerConfig{Host: "127.0.0.1", Port: 8800, Path: "/"},
		Keys:   KeysConfig{Private: "./demo/server-key.pem"},
		KVStore: KVStoreConfig{Path: "./demo/kvstore.db"},
		Async: AsyncConfig{TTLSeconds: 300, PollIntervalSec: 1, PollBudget: 60},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file at path, then overlays environment
// variables via envconfig (prefix MANY_, matching field `envconfig` tags).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.HSM != nil {
		if err := envconfig.Process("many", cfg.HSM); err != nil {
			return nil, fmt.Errorf("read HSM environment overrides: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants Load's caller relies on.
func (c *Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.HSM == nil && c.Keys.Private == "" {
		return fmt.Errorf("keys.private is required when hsm is not configured")
	}
	if c.HSM != nil {
		if c.HSM.ModulePath == "" {
			return fmt.Errorf("hsm.module_path is required")
		}
		if c.HSM.KeyLabel == "" {
			return fmt.Errorf("hsm.key_label is required")
		}
	}
	if c.Async.TTLSeconds <= 0 {
		return fmt.Errorf("async.ttl_seconds must be positive")
	}
	return nil
}

// Save writes cfg back out as YAML in the form Load reads.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
