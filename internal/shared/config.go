package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the client configuration loaded from a TOML file.
type Config struct {
	Client      ClientConfig      `toml:"client"`
	Nodes       []NodeConfig      `toml:"nodes"`
	Resume      ResumeConfig      `toml:"resume"`
	Reconnect   ReconnectConfig   `toml:"reconnect"`
	Updates     UpdatesConfig     `toml:"updates"`
	Persistence PersistenceConfig `toml:"persistence"`
}

// ClientConfig identifies this client to engine instances.
type ClientConfig struct {
	UserID     string `toml:"user_id"`
	ClientName string `toml:"client_name"`
}

// NodeConfig describes one audio-engine instance.
type NodeConfig struct {
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Secure   bool   `toml:"secure"`
	Region   string `toml:"region"`
	Version  string `toml:"version"` // protocol version, "v3" or "v4"
}

// ResumeConfig controls engine-side session resumption after a dropped stream.
type ResumeConfig struct {
	Enabled     bool `toml:"enabled"`
	TimeoutSecs int  `toml:"timeout_secs"`
}

// ReconnectConfig bounds the per-node reconnect loop.
type ReconnectConfig struct {
	MaxTries    int  `toml:"max_tries"`
	DelayMs     int  `toml:"delay_ms"`
	InfoMs      int  `toml:"info_timeout_ms"`
	RequireInfo bool `toml:"require_info"`
}

// UpdatesConfig controls outbound update coalescing.
type UpdatesConfig struct {
	CoalesceMs int `toml:"coalesce_ms"`
}

// PersistenceConfig selects the snapshot store backend.
type PersistenceConfig struct {
	Backend string `toml:"backend"` // "file" or "sqlite"
	Path    string `toml:"path"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, ErrInvalidConfig)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks constructor-grade invariants on the loaded configuration.
// Violations are fatal at startup and must not be swallowed.
func (c *Config) Validate() error {
	if c.Client.UserID == "" {
		return fmt.Errorf("%w: client.user_id is required", ErrInvalidConfig)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrInvalidConfig)
	}
	for i, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf("%w: nodes[%d].name is required", ErrInvalidConfig, i)
		}
		if n.Host == "" {
			return fmt.Errorf("%w: nodes[%d].host is required", ErrInvalidConfig, i)
		}
		if n.Port <= 0 || n.Port > 65535 {
			return fmt.Errorf("%w: nodes[%d].port %d is out of range", ErrInvalidConfig, i, n.Port)
		}
		if n.Version != "" && n.Version != "v3" && n.Version != "v4" {
			return fmt.Errorf("%w: nodes[%d].version must be v3 or v4", ErrInvalidConfig, i)
		}
	}
	if c.Persistence.Backend != "" && c.Persistence.Backend != "file" && c.Persistence.Backend != "sqlite" {
		return fmt.Errorf("%w: persistence.backend must be file or sqlite", ErrInvalidConfig)
	}
	return nil
}
