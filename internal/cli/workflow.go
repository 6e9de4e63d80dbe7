package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/slurmmon/slurmmon/internal/config"
	"github.com/slurmmon/slurmmon/internal/credential"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/extract"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/remote"
	"github.com/slurmmon/slurmmon/internal/slurmapi"
	"github.com/slurmmon/slurmmon/internal/store"
	"github.com/slurmmon/slurmmon/internal/tunnel"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// RetryBase is the first wait between whole-run retries; later waits double.
var RetryBase = 2 * time.Second

// WorkflowOptions configures workflow setup behavior.
type WorkflowOptions struct {
	SkipOpenAPI   bool      // Skip the OpenAPI fetch regardless of config
	Resources     []string  // Override config resources
	Output        io.Writer // Phase output; defaults to stdout
	SSHConfigPath string    // Defaults to ~/.ssh/config
	Local         bool      // No gateway; the API is reached directly
}

// WorkflowContext holds the loaded configuration and builds the components
// a command runs with.
type WorkflowContext struct {
	Config       *config.Config
	Settings     config.Settings
	Gateway      sshutil.ConnectionSpec
	Log          logger.Logger
	PhaseDisplay *ui.PhaseDisplay
	StartTime    time.Time

	// SpecPath is set once an OpenAPI fetch in the current run has succeeded.
	SpecPath string

	opts  WorkflowOptions
	store *store.Store
}

// Close releases workflow resources.
func (w *WorkflowContext) Close() {
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.Log.Warn("closing store: %v", err)
		}
		w.store = nil
	}
}

// SetupWorkflow finds and loads the config file, then builds a workflow
// from it. The caller must Close() the result.
func SetupWorkflow(opts WorkflowOptions) (*WorkflowContext, error) {
	cfgPath, err := config.Find(Config())
	if err != nil {
		return nil, err
	}
	if cfgPath == "" {
		return nil, errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'slurmmon init' to create a slurmmon.yaml config file")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	rootLog.Debug("using config %s", cfgPath)

	return NewWorkflow(cfg, settings, rootLog, opts)
}

// NewWorkflow validates cfg and resolves the gateway connection.
func NewWorkflow(cfg *config.Config, s config.Settings, log logger.Logger, opts WorkflowOptions) (*WorkflowContext, error) {
	var vopts []config.ValidationOption
	if !opts.Local {
		vopts = append(vopts, config.RequireGateway())
	}
	if err := config.Validate(cfg, vopts...); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Noop()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.SSHConfigPath == "" {
		opts.SSHConfigPath = sshutil.DefaultSSHConfigPath()
	}

	display := ui.NewPhaseDisplay(opts.Output)
	display.SetInteractive(isTerminal(opts.Output))

	return &WorkflowContext{
		Config:       cfg,
		Settings:     s,
		Gateway:      config.GatewaySpec(cfg, s, opts.SSHConfigPath),
		Log:          log,
		PhaseDisplay: display,
		StartTime:    time.Now(),
		opts:         opts,
	}, nil
}

// TunnelSpec is the forward described by the config.
func (w *WorkflowContext) TunnelSpec() tunnel.Spec {
	return tunnel.Spec{
		Gateway:    w.Gateway,
		RemoteHost: w.Config.Tunnel.RemoteHost,
		RemotePort: w.Config.Tunnel.RemotePort,
		LocalPort:  w.Config.Tunnel.LocalPort,
	}
}

// NewTunnel builds a tunnel manager with the configured forwarder.
func (w *WorkflowContext) NewTunnel() (*tunnel.Manager, error) {
	spec := w.TunnelSpec()
	log := logger.Named(w.Log, "tunnel")

	fwd, err := tunnel.NewForwarder(w.Config.Tunnel.Forwarder, spec, w.Config.Tunnel.SSHBinary, log)
	if err != nil {
		return nil, err
	}
	return tunnel.NewManager(spec, fwd, log, tunnel.Options{
		Grace:       w.Config.Tunnel.Grace,
		StopTimeout: w.Config.Tunnel.StopTimeout,
	}), nil
}

// NewIssuer builds a credential issuer that runs on the gateway.
func (w *WorkflowContext) NewIssuer() *credential.Issuer {
	log := logger.Named(w.Log, "credential")
	return credential.NewIssuer(sshutil.NewExecutor(log), w.Gateway, w.Config.Credential.Command, log)
}

// APIOptions are the REST client options from the config.
func (w *WorkflowContext) APIOptions() slurmapi.Options {
	return slurmapi.Options{
		Version: w.Config.API.Version,
		Timeout: w.Config.API.Timeout,
		Log:     logger.Named(w.Log, "api"),
	}
}

// OpenStore opens the configured store once; Close releases it.
func (w *WorkflowContext) OpenStore() (*store.Store, error) {
	if w.store != nil {
		return w.store, nil
	}
	st, err := store.Open(w.Config.Store.Path, logger.Named(w.Log, "store"))
	if err != nil {
		return nil, err
	}
	w.store = st
	return st, nil
}

// NewLoader builds the resource loader over the configured store.
func (w *WorkflowContext) NewLoader() (*extract.Loader, error) {
	names := w.Config.Resources
	if len(w.opts.Resources) > 0 {
		names = w.opts.Resources
	}
	resources, err := extract.Select(names)
	if err != nil {
		return nil, err
	}

	st, err := w.OpenStore()
	if err != nil {
		return nil, err
	}

	return &extract.Loader{
		Store:     st,
		Resources: resources,
		Pipeline:  w.Config.Store.Pipeline,
		Dataset:   w.Config.Store.Dataset,
		API:       w.APIOptions(),
		Log:       logger.Named(w.Log, "extract"),
	}, nil
}

// NewOrchestrator wires a run through t. A nil load stops the run after
// the OpenAPI fetch.
func (w *WorkflowContext) NewOrchestrator(t remote.Tunnel, load remote.Operation[*extract.LoadInfo]) *remote.Orchestrator[*extract.LoadInfo] {
	orch := &remote.Orchestrator[*extract.LoadInfo]{
		Tunnel:    t,
		Issuer:    w.NewIssuer(),
		Principal: w.Config.Credential.Principal,
		Lifespan:  w.Config.Credential.Lifespan,
		Probe:     slurmapi.PingOperation(w.APIOptions()),
		Load:      load,
		Reporter:  w.PhaseDisplay,
		Log:       logger.Named(w.Log, "orchestrator"),
	}

	if w.Config.OpenAPI.Enabled && !w.opts.SkipOpenAPI {
		fetch := slurmapi.OpenAPIOperation(w.Config.OpenAPI.Path, w.Config.OpenAPI.Validate, w.APIOptions())
		orch.SpecFetch = remote.OperationFunc[string](func(ctx context.Context, oc remote.OperationContext) (string, error) {
			path, err := fetch(ctx, oc)
			if err == nil {
				w.SpecPath = path
			}
			return path, err
		})
	}
	return orch
}

// Run performs one full load, retrying the whole run up to retries times
// when the tunnel or API could not be reached. A positive timeout bounds
// every attempt together.
func (w *WorkflowContext) Run(ctx context.Context, timeout time.Duration, retries uint64) (*extract.LoadInfo, error) {
	w.SpecPath = ""
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	loader, err := w.NewLoader()
	if err != nil {
		return nil, err
	}
	mgr, err := w.NewTunnel()
	if err != nil {
		return nil, err
	}
	orch := w.NewOrchestrator(mgr, loader.Operation())

	return runWithRetry(ctx, retries, w.Log, orch.Run)
}

// runWithRetry calls fn, retrying transient failures with exponential backoff.
func runWithRetry[R any](ctx context.Context, retries uint64, log logger.Logger, fn func(context.Context) (R, error)) (R, error) {
	if retries == 0 {
		return fn(ctx)
	}

	var result R
	attempt := 0
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := fn(ctx)
		if err != nil {
			if isTransient(err) {
				log.Warn("attempt %d of %d failed: %v", attempt, retries+1, err)
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// isTransient reports whether a failed run is worth repeating.
func isTransient(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrTunnelStart, errors.ErrConnection, errors.ErrConnectivity:
		return true
	}
	return false
}
