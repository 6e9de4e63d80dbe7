package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slurmmon/slurmmon/internal/errors"
)

// Forwarder kinds accepted in tunnel.forwarder.
var forwarderKinds = map[string]bool{
	"":        true,
	"process": true,
	"native":  true,
}

// ValidationOption controls validation behavior.
type ValidationOption func(*validationContext)

type validationContext struct {
	requireGateway bool
}

// RequireGateway makes an empty gateway.host a validation error. Commands
// that talk to a local API directly skip it.
func RequireGateway() ValidationOption {
	return func(ctx *validationContext) {
		ctx.requireGateway = true
	}
}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config, opts ...ValidationOption) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	ctx := &validationContext{}
	for _, opt := range opts {
		opt(ctx)
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but slurmmon only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade slurmmon or lower the version field.")
	}

	if err := validateGateway(cfg.Gateway, ctx.requireGateway); err != nil {
		return err
	}

	if err := validateTunnel(cfg.Tunnel); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'tunnel' section in your slurmmon.yaml.")
	}

	if err := validateCredential(cfg.Credential); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'credential' section in your slurmmon.yaml.")
	}

	if cfg.API.Timeout < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("api.timeout can't be negative (got %s)", cfg.API.Timeout),
			"Use a duration like 30s, or 0 for the default.")
	}

	if cfg.OpenAPI.Enabled && strings.TrimSpace(cfg.OpenAPI.Path) == "" {
		return errors.New(errors.ErrConfig,
			"openapi.path is empty but the fetch is enabled",
			"Set openapi.path, or disable the fetch with openapi.enabled: false.")
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		return errors.New(errors.ErrConfig,
			"store.path is empty",
			"Point store.path at a SQLite file, e.g. slurm.db.")
	}

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Schedule '%s' isn't a valid cron expression", cfg.Schedule),
				"Use five fields (e.g. '*/15 * * * *') or a descriptor like '@hourly'.")
		}
	}

	return nil
}

func validateGateway(gw GatewayConfig, required bool) error {
	if gw.Host == "" {
		if required {
			return errors.New(errors.ErrConfig,
				"No gateway host configured",
				"Set gateway.host in slurmmon.yaml (an ~/.ssh/config alias works), or run 'slurmmon init'.")
		}
		return nil
	}

	if strings.Contains(gw.Host, "@") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Gateway host '%s' looks like an SSH string, not a host name", gw.Host),
			"Put the user in gateway.user and just the host name in gateway.host.")
	}

	if gw.Port != 0 {
		if err := validatePort("gateway.port", gw.Port); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'gateway' section in your slurmmon.yaml.")
		}
	}

	if gw.ConnectTimeout < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("gateway.connect_timeout can't be negative (got %s)", gw.ConnectTimeout),
			"Use a duration like 10s.")
	}

	if gw.Password != "" && gw.KeyPath != "" {
		return errors.New(errors.ErrAuthConfig,
			"Both gateway.password and gateway.key_path are set",
			"Pick one: a key for the ssh process forwarder, or a password for the native forwarder.")
	}

	return nil
}

func validateTunnel(t TunnelConfig) error {
	if !forwarderKinds[t.Forwarder] {
		return fmt.Errorf("unknown tunnel.forwarder '%s' (use 'process' or 'native')", t.Forwarder)
	}
	if strings.TrimSpace(t.RemoteHost) == "" {
		return fmt.Errorf("tunnel.remote_host is empty")
	}
	if err := validatePort("tunnel.remote_port", t.RemotePort); err != nil {
		return err
	}
	if err := validatePort("tunnel.local_port", t.LocalPort); err != nil {
		return err
	}
	if err := validateNonNegative("tunnel.grace", t.Grace); err != nil {
		return err
	}
	return validateNonNegative("tunnel.stop_timeout", t.StopTimeout)
}

func validateCredential(c CredentialConfig) error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("credential.command is empty")
	}
	if !strings.Contains(c.Command, "{principal}") {
		return fmt.Errorf("credential.command must contain {principal}")
	}
	if c.Lifespan < 0 {
		return fmt.Errorf("credential.lifespan can't be negative (got %d)", c.Lifespan)
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535 (got %d)", field, port)
	}
	return nil
}

func validateNonNegative(field string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%s can't be negative (got %s)", field, d)
	}
	return nil
}
