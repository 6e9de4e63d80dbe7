package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.Zero(t, cfg.Gateway.Port)
	assert.Equal(t, 10*time.Second, cfg.Gateway.ConnectTimeout)
	assert.Equal(t, "slurm", cfg.Tunnel.RemoteHost)
	assert.Equal(t, 6820, cfg.Tunnel.RemotePort)
	assert.Equal(t, 6820, cfg.Tunnel.LocalPort)
	assert.Equal(t, 500*time.Millisecond, cfg.Tunnel.Grace)
	assert.Equal(t, "ssh", cfg.Tunnel.SSHBinary)
	assert.Equal(t, "scontrol token username={principal} lifespan={lifespan}", cfg.Credential.Command)
	assert.Equal(t, 3600, cfg.Credential.Lifespan)
	assert.Equal(t, "v0.0.38", cfg.API.Version)
	assert.True(t, cfg.OpenAPI.Enabled)
	assert.Equal(t, "slurm_openapi.json", cfg.OpenAPI.Path)
	assert.Equal(t, "slurm.db", cfg.Store.Path)
	assert.Equal(t, "slurm_data", cfg.Store.Dataset)
	assert.Empty(t, cfg.Resources)
	assert.NoError(t, Validate(cfg))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)

	content := `
version: 1
gateway:
  host: login.hpc.example.edu
  port: 2222
  user: alice
  key_path: /keys/id_ed25519
  connect_timeout: 3s
tunnel:
  forwarder: process
  local_port: 16820
  stop_timeout: 2s
credential:
  lifespan: 600
api:
  version: v0.0.39
openapi:
  enabled: false
store:
  path: /data/slurm.db
resources: [nodes, jobs]
schedule: "@hourly"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "login.hpc.example.edu", cfg.Gateway.Host)
	assert.Equal(t, 2222, cfg.Gateway.Port)
	assert.Equal(t, "alice", cfg.Gateway.User)
	assert.Equal(t, "/keys/id_ed25519", cfg.Gateway.KeyPath)
	assert.Equal(t, 3*time.Second, cfg.Gateway.ConnectTimeout)
	assert.Equal(t, "process", cfg.Tunnel.Forwarder)
	assert.Equal(t, 16820, cfg.Tunnel.LocalPort)
	assert.Equal(t, 2*time.Second, cfg.Tunnel.StopTimeout)
	assert.Equal(t, 600, cfg.Credential.Lifespan)
	assert.Equal(t, "v0.0.39", cfg.API.Version)
	assert.False(t, cfg.OpenAPI.Enabled)
	assert.Equal(t, "/data/slurm.db", cfg.Store.Path)
	assert.Equal(t, []string{"nodes", "jobs"}, cfg.Resources)
	assert.Equal(t, "@hourly", cfg.Schedule)

	// Untouched keys keep their defaults.
	assert.Equal(t, "slurm", cfg.Tunnel.RemoteHost)
	assert.Equal(t, 6820, cfg.Tunnel.RemotePort)
	assert.Equal(t, 500*time.Millisecond, cfg.Tunnel.Grace)
	assert.Equal(t, "scontrol token username={principal} lifespan={lifespan}", cfg.Credential.Command)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "slurm_data", cfg.Store.Dataset)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("gateway:\n  host: from-file\n"), 0644))

	t.Setenv("SLURMMON_GATEWAY_HOST", "from-env")
	t.Setenv("SLURMMON_TUNNEL_LOCAL_PORT", "17000")
	t.Setenv("SLURMMON_API_TIMEOUT", "5s")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.Host)
	assert.Equal(t, 17000, cfg.Tunnel.LocalPort)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	t.Setenv("SLURMMON_GATEWAY_USER", "bob")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Gateway.User)
	assert.Equal(t, 6820, cfg.Tunnel.LocalPort)
}

func TestLoad_ExpandsPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USER", "carol")

	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	content := `
gateway:
  key_path: ~/.ssh/id_ed25519
store:
  path: ${HOME}/data/${USER}.db
openapi:
  path: ~/specs/slurm.json
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh/id_ed25519"), cfg.Gateway.KeyPath)
	assert.Equal(t, home+"/data/carol.db", cfg.Store.Path)
	assert.Equal(t, filepath.Join(home, "specs/slurm.json"), cfg.OpenAPI.Path)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		require.NoError(t, os.WriteFile(path, []byte("gateway: [unclosed"), 0644))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("wrong type", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		require.NoError(t, os.WriteFile(path, []byte("tunnel:\n  local_port: lots\n"), 0644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid config format")
	})
}

func TestFind(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))

		found, err := Find(path)
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := Find(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("current directory", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("version: 1\n"), 0644))
		t.Chdir(dir)

		found, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, ConfigFileName, filepath.Base(found))
	})

	t.Run("parent directory up to git root", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte("version: 1\n"), 0644))
		sub := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(sub, 0755))
		t.Chdir(sub)

		found, err := Find("")
		require.NoError(t, err)
		resolvedRoot, _ := filepath.EvalSymlinks(root)
		resolvedFound, _ := filepath.EvalSymlinks(filepath.Dir(found))
		assert.Equal(t, resolvedRoot, resolvedFound)
	})

	t.Run("global fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		global := GlobalConfigPath(home)
		require.NoError(t, os.MkdirAll(filepath.Dir(global), 0755))
		require.NoError(t, os.WriteFile(global, []byte("version: 1\n"), 0644))

		work := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(work, ".git"), 0755))
		t.Chdir(work)

		found, err := Find("")
		require.NoError(t, err)
		assert.Equal(t, global, found)
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		work := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(work, ".git"), 0755))
		t.Chdir(work)

		found, err := Find("")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	work := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(work, ".git"), 0755))
	t.Chdir(work)

	cfg, path, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, DefaultConfig().Tunnel, cfg.Tunnel)

	require.NoError(t, os.WriteFile(filepath.Join(work, ConfigFileName), []byte("gateway:\n  host: gw\n"), 0644))
	cfg, path, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, ConfigFileName, filepath.Base(path))
	assert.Equal(t, "gw", cfg.Gateway.Host)
}

func TestLoadSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := LoadSettings()
		require.NoError(t, err)
		assert.Equal(t, "info", s.LogLevel)
		assert.Equal(t, "text", s.LogFormat)
		assert.False(t, s.Debug)
	})

	t.Run("debug forces level", func(t *testing.T) {
		t.Setenv("SLURMMON_DEBUG", "true")
		t.Setenv("SLURMMON_LOG_LEVEL", "warn")
		t.Setenv("SLURMMON_SSH_PASSWORD", "pw")
		s, err := LoadSettings()
		require.NoError(t, err)
		assert.Equal(t, "debug", s.LogLevel)
		assert.Equal(t, "pw", s.SSHPassword)
	})

	t.Run("bad bool", func(t *testing.T) {
		t.Setenv("SLURMMON_DEBUG", "maybe")
		_, err := LoadSettings()
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})
}

func TestWriteAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)
	cfg := DefaultConfig()
	cfg.Gateway.Host = "login.example.edu"
	cfg.Gateway.User = "alice"
	cfg.Resources = []string{"nodes"}

	require.NoError(t, Write(path, cfg, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# slurmmon configuration.")
	assert.NotContains(t, string(data), "password:")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Gateway, loaded.Gateway)
	assert.Equal(t, cfg.Tunnel, loaded.Tunnel)
	assert.Equal(t, []string{"nodes"}, loaded.Resources)

	err = Write(path, cfg, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.NoError(t, Write(path, cfg, true))
}

func TestGatewaySpec(t *testing.T) {
	sshConfig := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(sshConfig, []byte(`
Host hpc
  HostName login.hpc.example.edu
  User alice
  Port 2200
  IdentityFile /keys/hpc
`), 0600))

	tests := []struct {
		name     string
		gateway  GatewayConfig
		settings Settings
		wantHost string
		wantPort int
		wantUser string
		wantKey  string
		wantPass string
	}{
		{
			name:     "alias fills everything",
			gateway:  GatewayConfig{Host: "hpc"},
			wantHost: "login.hpc.example.edu",
			wantPort: 2200,
			wantUser: "alice",
			wantKey:  "/keys/hpc",
		},
		{
			name:     "explicit fields win",
			gateway:  GatewayConfig{Host: "hpc", Port: 22, User: "bob", KeyPath: "/keys/bob"},
			wantHost: "login.hpc.example.edu",
			wantPort: 22,
			wantUser: "bob",
			wantKey:  "/keys/bob",
		},
		{
			name:     "env password replaces key",
			gateway:  GatewayConfig{Host: "hpc", KeyPath: "/keys/bob"},
			settings: Settings{SSHPassword: "pw"},
			wantHost: "login.hpc.example.edu",
			wantPort: 2200,
			wantUser: "alice",
			wantPass: "pw",
		},
		{
			name:     "plain host defaults port",
			gateway:  GatewayConfig{Host: "gw.example.edu", User: "carol", Password: "x"},
			wantHost: "gw.example.edu",
			wantPort: 22,
			wantUser: "carol",
			wantPass: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Gateway = tt.gateway
			cfg.Gateway.ConnectTimeout = 4 * time.Second

			spec := GatewaySpec(cfg, tt.settings, sshConfig)
			assert.Equal(t, tt.wantHost, spec.Host)
			assert.Equal(t, tt.wantPort, spec.Port)
			assert.Equal(t, tt.wantUser, spec.User)
			assert.Equal(t, tt.wantKey, spec.KeyPath)
			assert.Equal(t, tt.wantPass, spec.Password)
			assert.Equal(t, 4*time.Second, spec.Timeout)
		})
	}
}
