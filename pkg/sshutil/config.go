package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias        string // The Host pattern (alias)
	Hostname     string // The HostName value (actual host to connect to)
	User         string
	Port         string
	IdentityFile string
}

// Description returns a user-friendly description of the host.
func (h SSHHostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}
	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}
	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if len(parts) == 0 {
		return h.Alias
	}
	return strings.Join(parts, ", ")
}

// DefaultSSHConfigPath returns ~/.ssh/config.
func DefaultSSHConfigPath() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

// ParseSSHConfigFile parses the specified SSH config file and returns the
// concrete host aliases it defines, sorted by alias. Wildcard patterns are
// skipped. A missing file is not an error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()

			if strings.Contains(alias, "*") || strings.Contains(alias, "?") {
				continue
			}
			if seen[alias] {
				continue
			}
			seen[alias] = true

			hosts = append(hosts, lookupEntry(cfg, alias))
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Alias < hosts[j].Alias
	})

	return hosts, nil
}

// ApplySSHConfig fills empty Host/Port/User/KeyPath fields of spec from the
// SSH config entry matching spec.Host. Fields already set win; a missing or
// unreadable config leaves spec unchanged.
func ApplySSHConfig(spec ConnectionSpec, configPath string) ConnectionSpec {
	if spec.Host == "" {
		return spec
	}

	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		return spec
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return spec
	}

	entry := lookupEntry(cfg, spec.Host)

	if entry.Hostname != "" {
		spec.Host = entry.Hostname
	}
	if spec.Port == 0 && entry.Port != "" {
		if port, err := strconv.Atoi(entry.Port); err == nil {
			spec.Port = port
		}
	}
	if spec.User == "" {
		spec.User = entry.User
	}
	if spec.KeyPath == "" && spec.Password == "" {
		spec.KeyPath = entry.IdentityFile
	}
	return spec
}

func lookupEntry(cfg *ssh_config.Config, alias string) SSHHostEntry {
	entry := SSHHostEntry{Alias: alias}
	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		entry.Hostname = hostname
	}
	if user, _ := cfg.Get(alias, "User"); user != "" {
		entry.User = user
	}
	if port, _ := cfg.Get(alias, "Port"); port != "" {
		entry.Port = port
	}
	if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
		entry.IdentityFile = expandPath(identity)
	}
	return entry
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive,
// which ssh_config cannot parse. Also returns the 1-indexed line of that directive (0 if none).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}
