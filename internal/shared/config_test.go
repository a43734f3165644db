package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if len(config.Nodes) != 1 {
			t.Fatalf("expected 1 default node, got %d", len(config.Nodes))
		}

		if config.Nodes[0].Port != 2333 {
			t.Errorf("expected default node port 2333, got %d", config.Nodes[0].Port)
		}

		if config.Nodes[0].Version != "v4" {
			t.Errorf("expected default protocol version v4, got %s", config.Nodes[0].Version)
		}

		if config.Reconnect.MaxTries != 5 {
			t.Errorf("expected reconnect max_tries 5, got %d", config.Reconnect.MaxTries)
		}

		if config.Updates.CoalesceMs != 40 {
			t.Errorf("expected coalesce window 40ms, got %d", config.Updates.CoalesceMs)
		}

		if config.Persistence.Backend != "file" {
			t.Errorf("expected file persistence backend, got %s", config.Persistence.Backend)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Nodes[0].Host != defaultConfig.Nodes[0].Host {
			t.Errorf("created config node host doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("expected error when config file already exists")
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		if err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		t.Run("Valid", func(t *testing.T) {
			config := DefaultConfig()
			if err := config.Validate(); err != nil {
				t.Errorf("expected default config to validate, got %v", err)
			}
		})

		t.Run("Missing UserID", func(t *testing.T) {
			config := DefaultConfig()
			config.Client.UserID = ""
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("No Nodes", func(t *testing.T) {
			config := DefaultConfig()
			config.Nodes = nil
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("Bad Port", func(t *testing.T) {
			config := DefaultConfig()
			config.Nodes[0].Port = -1
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("Bad Version", func(t *testing.T) {
			config := DefaultConfig()
			config.Nodes[0].Version = "v9"
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("Bad Persistence Backend", func(t *testing.T) {
			config := DefaultConfig()
			config.Persistence.Backend = "redis"
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	})
}
