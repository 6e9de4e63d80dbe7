package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete slurmmon.yaml configuration file.
type Config struct {
	Version    int              `yaml:"version" mapstructure:"version"`
	Gateway    GatewayConfig    `yaml:"gateway" mapstructure:"gateway"`
	Tunnel     TunnelConfig     `yaml:"tunnel" mapstructure:"tunnel"`
	Credential CredentialConfig `yaml:"credential" mapstructure:"credential"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	OpenAPI    OpenAPIConfig    `yaml:"openapi" mapstructure:"openapi"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`

	// Resources names the resources to load; empty loads all of them.
	Resources []string `yaml:"resources" mapstructure:"resources"`

	// Schedule is a cron expression used by `slurmmon schedule`.
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
}

// GatewayConfig describes the SSH login node in front of the cluster.
type GatewayConfig struct {
	// Host is a hostname or an alias from ~/.ssh/config.
	Host string `yaml:"host" mapstructure:"host"`
	// Port 0 means the ssh config's Port, else 22.
	Port int    `yaml:"port" mapstructure:"port"`
	User string `yaml:"user" mapstructure:"user"`

	// Password is usually left empty and supplied via SLURMMON_SSH_PASSWORD.
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`

	KnownHosts            string        `yaml:"known_hosts" mapstructure:"known_hosts"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// TunnelConfig controls the local port forward.
type TunnelConfig struct {
	// Forwarder is "process" (ssh -N -L) or "native" (in-process).
	// Empty picks native for password auth and process otherwise.
	Forwarder   string        `yaml:"forwarder" mapstructure:"forwarder"`
	RemoteHost  string        `yaml:"remote_host" mapstructure:"remote_host"`
	RemotePort  int           `yaml:"remote_port" mapstructure:"remote_port"`
	LocalPort   int           `yaml:"local_port" mapstructure:"local_port"`
	Grace       time.Duration `yaml:"grace" mapstructure:"grace"`
	StopTimeout time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
	SSHBinary   string        `yaml:"ssh_binary" mapstructure:"ssh_binary"`
}

// CredentialConfig controls token issuing.
type CredentialConfig struct {
	// Command is run on the gateway; {principal} and {lifespan} are substituted.
	Command string `yaml:"command" mapstructure:"command"`

	// Principal defaults to the gateway user.
	Principal string `yaml:"principal" mapstructure:"principal"`

	// Lifespan is the token lifetime in seconds.
	Lifespan int `yaml:"lifespan" mapstructure:"lifespan"`
}

// APIConfig controls REST requests.
type APIConfig struct {
	Version string        `yaml:"version" mapstructure:"version"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// OpenAPIConfig controls the interface-description fetch.
type OpenAPIConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	Validate bool   `yaml:"validate" mapstructure:"validate"`
}

// StoreConfig locates the SQLite destination.
type StoreConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Pipeline string `yaml:"pipeline" mapstructure:"pipeline"`
	Dataset  string `yaml:"dataset" mapstructure:"dataset"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Gateway: GatewayConfig{
			ConnectTimeout: 10 * time.Second,
		},
		Tunnel: TunnelConfig{
			RemoteHost:  "slurm",
			RemotePort:  6820,
			LocalPort:   6820,
			Grace:       500 * time.Millisecond,
			StopTimeout: 5 * time.Second,
			SSHBinary:   "ssh",
		},
		Credential: CredentialConfig{
			Command:  "scontrol token username={principal} lifespan={lifespan}",
			Lifespan: 3600,
		},
		API: APIConfig{
			Version: "v0.0.38",
			Timeout: 30 * time.Second,
		},
		OpenAPI: OpenAPIConfig{
			Enabled:  true,
			Path:     "slurm_openapi.json",
			Validate: true,
		},
		Store: StoreConfig{
			Path:     "slurm.db",
			Pipeline: "slurm",
			Dataset:  "slurm_data",
		},
		Resources: []string{},
	}
}
