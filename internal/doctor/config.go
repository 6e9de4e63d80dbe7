package doctor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/slurmmon/slurmmon/internal/config"
)

// Check categories.
const (
	CategoryConfig  = "CONFIG"
	CategorySSH     = "SSH"
	CategoryGateway = "GATEWAY"
	CategoryStore   = "STORE"
)

// ConfigFileCheck verifies that a config file exists.
type ConfigFileCheck struct {
	ConfigPath string // Explicit path, or empty to search
}

func (c *ConfigFileCheck) Name() string     { return "config_file" }
func (c *ConfigFileCheck) Category() string { return CategoryConfig }
func (c *ConfigFileCheck) Blocks() []string { return []string{CategoryGateway} }

func (c *ConfigFileCheck) Run(context.Context) CheckResult {
	path, err := config.Find(c.ConfigPath)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Error finding config: %v", err),
			Suggestion: "Check file permissions or run 'slurmmon init' to create a config",
		}
	}
	if path == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "No config file found",
			Suggestion: "Run 'slurmmon init' to create slurmmon.yaml",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Config file: %s", filepath.Base(path)),
	}
}

func (c *ConfigFileCheck) Fix() error {
	return nil
}

// ConfigValidCheck verifies that the config loads and describes a gateway.
type ConfigValidCheck struct {
	Config  *config.Config
	LoadErr error
}

func (c *ConfigValidCheck) Name() string     { return "config_valid" }
func (c *ConfigValidCheck) Category() string { return CategoryConfig }
func (c *ConfigValidCheck) Blocks() []string { return []string{CategoryGateway} }

func (c *ConfigValidCheck) Run(context.Context) CheckResult {
	if c.LoadErr != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Failed to load config: %s", firstLine(c.LoadErr)),
			Suggestion: "Check the YAML syntax in slurmmon.yaml",
		}
	}
	if c.Config == nil {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusFail,
			Message: "Cannot validate: no config file",
		}
	}
	if err := config.Validate(c.Config, config.RequireGateway()); err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    firstLine(err),
			Suggestion: "Fix slurmmon.yaml, or use 'slurmmon config set <key> <value>'",
		}
	}

	gw := c.Config.Gateway
	msg := "Gateway " + gw.Host
	if gw.User != "" {
		msg = "Gateway " + gw.User + "@" + gw.Host
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: msg,
	}
}

func (c *ConfigValidCheck) Fix() error {
	return nil
}

// NewConfigChecks creates all config-related checks.
func NewConfigChecks(configPath string, cfg *config.Config, loadErr error) []Check {
	return []Check{
		&ConfigFileCheck{ConfigPath: configPath},
		&ConfigValidCheck{Config: cfg, LoadErr: loadErr},
	}
}
