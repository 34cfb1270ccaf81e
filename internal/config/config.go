// Package config loads node configuration from YAML with sane defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/mr-tron/base58"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StoreConfig selects and parameterizes the account store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// MarketConfig holds the task market knobs.
type MarketConfig struct {
	AutoRejectSiblings bool `yaml:"auto_reject_siblings"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full node configuration.
type Config struct {
	// Authority is the base58 address that administers the ledger
	// singletons. Required for run.
	Authority string       `yaml:"authority"`
	Listen    string       `yaml:"listen"`
	Store     StoreConfig  `yaml:"store"`
	Market    MarketConfig `yaml:"market"`
	Log       LogConfig    `yaml:"log"`
}

// Default returns the configuration a node runs with when no file is given.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8480",
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    "droneos.db",
		},
		Market: MarketConfig{
			AutoRejectSiblings: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Authority != "" {
		if _, err := c.AuthorityAddress(); err != nil {
			return err
		}
	}
	return nil
}

// AuthorityAddress decodes the configured authority.
func (c *Config) AuthorityAddress() (ledger.Address, error) {
	var addr ledger.Address
	if c.Authority == "" {
		return addr, fmt.Errorf("authority is not configured")
	}
	raw, err := base58.Decode(c.Authority)
	if err != nil {
		return addr, fmt.Errorf("decode authority: %w", err)
	}
	if len(raw) != ledger.AddressLen {
		return addr, fmt.Errorf("authority must be %d bytes, got %d", ledger.AddressLen, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// Write renders the configuration to path as YAML.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
