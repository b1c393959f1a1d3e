package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brianh20/many-go/internal/config"
)

func TestDefault(t *testing.T) {
	t.Run("creates a usable default", func(t *testing.T) {
		cfg := config.Default()
		if cfg.Origin == "" {
			t.Error("expected non-empty origin")
		}
		if cfg.KVStore.Path == "" {
			t.Error("expected non-empty kvstore path")
		}
	})

	t.Run("default config is valid", func(t *testing.T) {
		if err := config.Default().Validate(); err != nil {
			t.Errorf("default config should be valid: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects empty origin", func(t *testing.T) {
		cfg := config.Default()
		cfg.Origin = ""
		if err := cfg.Validate(); err == nil {
			t.Error("should reject empty origin")
		}
	})

	t.Run("rejects invalid port", func(t *testing.T) {
		cfg := config.Default()
		cfg.Server.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("should reject port 0")
		}
		cfg.Server.Port = 99999
		if err := cfg.Validate(); err == nil {
			t.Error("should reject port > 65535")
		}
	})

	t.Run("rejects missing private key when HSM is not configured", func(t *testing.T) {
		cfg := config.Default()
		cfg.Keys.Private = ""
		if err := cfg.Validate(); err == nil {
			t.Error("should reject empty private key path without HSM")
		}
	})

	t.Run("requires HSM module path and key label when HSM is configured", func(t *testing.T) {
		cfg := config.Default()
		cfg.HSM = &config.HSMConfig{}
		if err := cfg.Validate(); err == nil {
			t.Error("should reject HSM config missing module_path/key_label")
		}
		cfg.HSM.ModulePath = "/usr/lib/softhsm/libsofthsm2.so"
		cfg.HSM.KeyLabel = "server-key"
		if err := cfg.Validate(); err != nil {
			t.Errorf("complete HSM config should validate: %v", err)
		}
	})

	t.Run("rejects non-positive async TTL", func(t *testing.T) {
		cfg := config.Default()
		cfg.Async.TTLSeconds = 0
		if err := cfg.Validate(); err == nil {
			t.Error("should reject zero async TTL")
		}
	})
}

func TestSaveLoad(t *testing.T) {
	t.Run("round-trips through YAML", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "config.yaml")

		original := config.Default()
		original.Origin = "https://test.example.com"

		if err := config.Save(original, configPath); err != nil {
			t.Fatalf("save config: %v", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			t.Fatalf("load config: %v", err)
		}

		if loaded.Origin != original.Origin {
			t.Errorf("origin mismatch: expected %s, got %s", original.Origin, loaded.Origin)
		}
		if loaded.KVStore.Path != original.KVStore.Path {
			t.Errorf("kvstore path mismatch")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
			t.Error("should return error for non-existent file")
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "bad.yaml")
		_ = os.WriteFile(configPath, []byte("invalid: yaml: content: [[["), 0644)

		if _, err := config.Load(configPath); err == nil {
			t.Error("should return error for invalid YAML")
		}
	})
}

func TestAddr(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 8800}
	if got, want := cfg.Addr(), "127.0.0.1:8800"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
