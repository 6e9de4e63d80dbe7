package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "slurmmon.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/slurmmon"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. SLURMMON_GATEWAY_HOST.
	EnvPrefix = "SLURMMON"
)

// Load reads config from path. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Config file not found",
					"Run 'slurmmon init' to create a config file, or specify one with --config")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file",
				"Check the file exists and is valid YAML")
		}
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. slurmmon.yaml in current directory
// 3. slurmmon.yaml in parent directories (stops at git root or home)
// 4. ~/.config/slurmmon/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	if local := filepath.Join(cwd, ConfigFileName); fileExists(local) {
		return local, nil
	}

	home, _ := os.UserHomeDir()
	dir := cwd
	for !isGitRoot(dir) {
		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && parent == home) {
			break
		}
		dir = parent

		if candidate := filepath.Join(dir, ConfigFileName); fileExists(candidate) {
			return candidate, nil
		}
	}

	if home != "" {
		if global := GlobalConfigPath(home); fileExists(global) {
			return global, nil
		}
	}

	return "", nil
}

// GlobalConfigPath returns ~/.config/slurmmon/config.yaml for home.
func GlobalConfigPath(home string) string {
	return filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
}

// LoadOrDefault finds and loads the config, falling back to defaults (with
// environment overrides) when there is no file. The returned path is empty
// in that case.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		source := path
		if source == "" {
			source = "the SLURMMON_* environment"
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+source)
	}

	cfg.Gateway.KeyPath = ExpandPath(cfg.Gateway.KeyPath)
	cfg.Gateway.KnownHosts = ExpandPath(cfg.Gateway.KnownHosts)
	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.OpenAPI.Path = ExpandPath(cfg.OpenAPI.Path)

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("gateway.host", d.Gateway.Host)
	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.user", d.Gateway.User)
	v.SetDefault("gateway.password", d.Gateway.Password)
	v.SetDefault("gateway.key_path", d.Gateway.KeyPath)
	v.SetDefault("gateway.known_hosts", d.Gateway.KnownHosts)
	v.SetDefault("gateway.strict_host_key_checking", d.Gateway.StrictHostKeyChecking)
	v.SetDefault("gateway.connect_timeout", d.Gateway.ConnectTimeout)

	v.SetDefault("tunnel.forwarder", d.Tunnel.Forwarder)
	v.SetDefault("tunnel.remote_host", d.Tunnel.RemoteHost)
	v.SetDefault("tunnel.remote_port", d.Tunnel.RemotePort)
	v.SetDefault("tunnel.local_port", d.Tunnel.LocalPort)
	v.SetDefault("tunnel.grace", d.Tunnel.Grace)
	v.SetDefault("tunnel.stop_timeout", d.Tunnel.StopTimeout)
	v.SetDefault("tunnel.ssh_binary", d.Tunnel.SSHBinary)

	v.SetDefault("credential.command", d.Credential.Command)
	v.SetDefault("credential.principal", d.Credential.Principal)
	v.SetDefault("credential.lifespan", d.Credential.Lifespan)

	v.SetDefault("api.version", d.API.Version)
	v.SetDefault("api.timeout", d.API.Timeout)

	v.SetDefault("openapi.enabled", d.OpenAPI.Enabled)
	v.SetDefault("openapi.path", d.OpenAPI.Path)
	v.SetDefault("openapi.validate", d.OpenAPI.Validate)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.pipeline", d.Store.Pipeline)
	v.SetDefault("store.dataset", d.Store.Dataset)

	v.SetDefault("resources", d.Resources)
	v.SetDefault("schedule", d.Schedule)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isGitRoot checks if a directory is a git repository root.
func isGitRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir()
}
