package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/slurmmon/slurmmon/internal/errors"
)

// Settings are process-level knobs read only from the environment.
// They sit outside slurmmon.yaml so secrets never end up in a file.
type Settings struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	SSHPassword string `envconfig:"SSH_PASSWORD" default:""`
	NoColor     bool   `envconfig:"NO_COLOR" default:"false"`
}

// LoadSettings reads SLURMMON_* environment variables.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read SLURMMON_* environment settings",
			"Check the values of SLURMMON_DEBUG and friends.")
	}
	if s.Debug {
		s.LogLevel = "debug"
	}
	return s, nil
}
