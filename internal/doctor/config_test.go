package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/slurmmon/slurmmon/internal/config"
)

func TestConfigFileCheck(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	t.Run("config not found", func(t *testing.T) {
		check := &ConfigFileCheck{ConfigPath: filepath.Join(tmpDir, "nonexistent.yaml")}
		result := check.Run(ctx)

		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
	})

	t.Run("config found", func(t *testing.T) {
		cfgPath := filepath.Join(tmpDir, "slurmmon.yaml")
		content := "version: 1\ngateway:\n  host: login.example.edu\n"
		if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		check := &ConfigFileCheck{ConfigPath: cfgPath}
		result := check.Run(ctx)

		if result.Status != StatusPass {
			t.Errorf("expected StatusPass, got %v: %s", result.Status, result.Message)
		}
		if result.Message != "Config file: slurmmon.yaml" {
			t.Errorf("unexpected message %q", result.Message)
		}
	})

	t.Run("name and category", func(t *testing.T) {
		check := &ConfigFileCheck{}
		if check.Name() != "config_file" {
			t.Errorf("expected name 'config_file', got %s", check.Name())
		}
		if check.Category() != "CONFIG" {
			t.Errorf("expected category 'CONFIG', got %s", check.Category())
		}
	})
}

func TestConfigValidCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("valid gateway", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Gateway.Host = "login.example.edu"
		cfg.Gateway.User = "alice"

		result := (&ConfigValidCheck{Config: cfg}).Run(ctx)
		if result.Status != StatusPass {
			t.Fatalf("expected StatusPass, got %v: %s", result.Status, result.Message)
		}
		if result.Message != "Gateway alice@login.example.edu" {
			t.Errorf("unexpected message %q", result.Message)
		}
	})

	t.Run("missing gateway host", func(t *testing.T) {
		result := (&ConfigValidCheck{Config: config.DefaultConfig()}).Run(ctx)
		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
		if strings.Contains(result.Message, "\n") {
			t.Errorf("message should be one line: %q", result.Message)
		}
	})

	t.Run("load error", func(t *testing.T) {
		result := (&ConfigValidCheck{LoadErr: errors.New("yaml: line 3: mapping values are not allowed")}).Run(ctx)
		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
		if !strings.Contains(result.Message, "line 3") {
			t.Errorf("expected cause in message, got %q", result.Message)
		}
	})

	t.Run("no config", func(t *testing.T) {
		result := (&ConfigValidCheck{}).Run(ctx)
		if result.Status != StatusFail {
			t.Errorf("expected StatusFail, got %v", result.Status)
		}
	})
}
