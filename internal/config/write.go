package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"gopkg.in/yaml.v3"
)

const fileHeader = `# slurmmon configuration.
# Values can be overridden with SLURMMON_<SECTION>_<KEY>, e.g. SLURMMON_GATEWAY_HOST.
# Keep passwords out of this file; use SLURMMON_SSH_PASSWORD instead.
`

// Marshal renders cfg as YAML with the standard header.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves cfg to path. An existing file is only replaced when
// overwrite is set.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite && fileExists(path) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s already exists", path),
			"Pass --force to overwrite it, or edit it by hand.")
	}

	data, err := Marshal(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't render config", "")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Couldn't create config directory "+dir,
				"Check directory permissions")
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't write "+path,
			"Check file permissions")
	}
	return nil
}

// GatewaySpec builds the SSH connection spec for the gateway. Aliases from
// the ssh config at sshConfigPath fill in anything the file leaves empty,
// and a password from the environment wins over one in the file.
func GatewaySpec(cfg *Config, settings Settings, sshConfigPath string) sshutil.ConnectionSpec {
	gw := cfg.Gateway
	spec := sshutil.ConnectionSpec{
		Host:                  gw.Host,
		Port:                  gw.Port,
		User:                  gw.User,
		Password:              gw.Password,
		KeyPath:               gw.KeyPath,
		KnownHostsPath:        gw.KnownHosts,
		StrictHostKeyChecking: gw.StrictHostKeyChecking,
		Timeout:               gw.ConnectTimeout,
	}
	if settings.SSHPassword != "" {
		spec.Password = settings.SSHPassword
		spec.KeyPath = ""
	}
	if sshConfigPath != "" {
		spec = sshutil.ApplySSHConfig(spec, sshConfigPath)
	}
	if spec.Port == 0 {
		spec.Port = sshutil.DefaultPort
	}
	spec.KeyPath = ExpandPath(spec.KeyPath)
	return spec
}
