package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// SSHKeyCheck verifies the configured private key exists and is private.
type SSHKeyCheck struct {
	Spec sshutil.ConnectionSpec
}

func (c *SSHKeyCheck) Name() string     { return "ssh_key" }
func (c *SSHKeyCheck) Category() string { return CategorySSH }

func (c *SSHKeyCheck) Run(context.Context) CheckResult {
	if c.Spec.KeyPath == "" {
		if c.Spec.Password != "" {
			return CheckResult{
				Name:    c.Name(),
				Status:  StatusPass,
				Message: "Password auth (SLURMMON_SSH_PASSWORD)",
			}
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No key or password configured; relying on the SSH agent",
			Suggestion: "Set gateway.key_path, or an IdentityFile for the host in ~/.ssh/config",
		}
	}

	info, err := os.Stat(c.Spec.KeyPath)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Key %s not readable", c.Spec.KeyPath),
			Suggestion: "Check gateway.key_path, or generate one with: ssh-keygen -t ed25519",
		}
	}

	if info.Mode().Perm()&0077 != 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Insecure permissions %04o on %s", info.Mode().Perm(), c.Spec.KeyPath),
			Suggestion: "Fix: chmod 600 " + c.Spec.KeyPath,
			Fixable:    true,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "SSH key " + c.Spec.KeyPath,
	}
}

func (c *SSHKeyCheck) Fix() error {
	if c.Spec.KeyPath == "" {
		return nil
	}
	info, err := os.Stat(c.Spec.KeyPath)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0077 == 0 {
		return nil
	}
	if err := os.Chmod(c.Spec.KeyPath, 0600); err != nil {
		return fmt.Errorf("failed to fix permissions on %s: %w", c.Spec.KeyPath, err)
	}
	return nil
}

// SSHAgentCheck reports whether an SSH agent is reachable. Only a missing
// agent with nothing else to authenticate with is a failure.
type SSHAgentCheck struct {
	Spec sshutil.ConnectionSpec
}

func (c *SSHAgentCheck) Name() string     { return "ssh_agent" }
func (c *SSHAgentCheck) Category() string { return CategorySSH }

func (c *SSHAgentCheck) Run(context.Context) CheckResult {
	status := StatusWarn
	if c.Spec.KeyPath == "" && c.Spec.Password == "" {
		status = StatusFail
	}

	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     status,
			Message:    "SSH agent not running",
			Suggestion: "Encrypted keys need an agent: eval $(ssh-agent) && ssh-add",
		}
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     status,
			Message:    "SSH agent socket not accessible",
			Suggestion: "Restart the agent: eval $(ssh-agent) && ssh-add",
		}
	}
	conn.Close() //nolint:errcheck // Best-effort close, error not actionable

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "SSH agent reachable",
	}
}

func (c *SSHAgentCheck) Fix() error {
	return nil
}

// SSHBinaryCheck verifies the ssh client used by the process forwarder.
type SSHBinaryCheck struct {
	Binary    string
	Forwarder string // configured tunnel.forwarder
	Spec      sshutil.ConnectionSpec
}

func (c *SSHBinaryCheck) Name() string     { return "ssh_binary" }
func (c *SSHBinaryCheck) Category() string { return CategorySSH }

func (c *SSHBinaryCheck) Run(context.Context) CheckResult {
	native := c.Forwarder == "native" ||
		(c.Forwarder == "" && c.Spec.Password != "" && c.Spec.KeyPath == "")
	if native {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Native forwarder; no ssh binary needed",
		}
	}

	binary := c.Binary
	if binary == "" {
		binary = "ssh"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s not found on PATH", binary),
			Suggestion: "Install OpenSSH, set tunnel.ssh_binary, or use tunnel.forwarder: native",
		}
	}

	out, err := exec.Command(path, "-V").CombinedOutput()
	version := strings.TrimSpace(string(out))
	if err != nil || version == "" {
		version = path
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: version,
	}
}

func (c *SSHBinaryCheck) Fix() error {
	return nil
}

// KnownHostsCheck verifies known_hosts is usable when host keys are checked.
type KnownHostsCheck struct {
	Spec sshutil.ConnectionSpec
}

func (c *KnownHostsCheck) Name() string     { return "known_hosts" }
func (c *KnownHostsCheck) Category() string { return CategorySSH }

func (c *KnownHostsCheck) Run(context.Context) CheckResult {
	if !c.Spec.StrictHostKeyChecking {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "Host key checking is off",
			Suggestion: "Set gateway.strict_host_key_checking: true once the gateway is in known_hosts",
		}
	}

	path := c.Spec.KnownHostsPath
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Can't read %s", path),
			Suggestion: fmt.Sprintf("Add the gateway with: ssh-keyscan -p %d %s >> %s", c.Spec.Port, c.Spec.Host, path),
		}
	}
	if !strings.Contains(string(data), c.Spec.Host) {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s has no plain entry for %s", path, c.Spec.Host),
			Suggestion: fmt.Sprintf("If the connection fails, run: ssh-keyscan -p %d %s >> %s", c.Spec.Port, c.Spec.Host, path),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Gateway listed in " + path,
	}
}

func (c *KnownHostsCheck) Fix() error {
	return nil
}

// NewSSHChecks creates all SSH-related checks.
func NewSSHChecks(spec sshutil.ConnectionSpec, forwarder, sshBinary string) []Check {
	return []Check{
		&SSHKeyCheck{Spec: spec},
		&SSHAgentCheck{Spec: spec},
		&SSHBinaryCheck{Binary: sshBinary, Forwarder: forwarder, Spec: spec},
		&KnownHostsCheck{Spec: spec},
	}
}
