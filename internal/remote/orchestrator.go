package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/slurmmon/slurmmon/internal/credential"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
)

// State is where a run has got to.
type State int

const (
	StateIdle State = iota
	StateAuthenticated
	StateVerified
	StateSpecFetched
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticated:
		return "authenticated"
	case StateVerified:
		return "verified"
	case StateSpecFetched:
		return "spec-fetched"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Step names attached to errors with errors.NewStepError.
const (
	StepTunnel     = "tunnel"
	StepCredential = "credential"
	StepPing       = "ping"
	StepOpenAPI    = "openapi"
	StepLoad       = "load"
)

// Issuer issues credentials. *credential.Issuer satisfies it.
type Issuer interface {
	Issue(ctx context.Context, principal string, lifespan int) (*credential.Credential, error)
}

// Reporter shows phase progress. *ui.PhaseDisplay satisfies it.
type Reporter interface {
	RenderProgress(name string)
	RenderSuccess(name string, duration time.Duration)
	RenderFailed(name string, duration time.Duration, err error)
	RenderSkipped(name string, reason string)
}

// Orchestrator runs credential, ping, spec fetch and load in that order, each
// through the tunnel. One Orchestrator handles one run at a time.
type Orchestrator[R any] struct {
	Tunnel    Tunnel
	Issuer    Issuer
	Principal string
	Lifespan  int

	// Probe must fail for a non-2xx answer; its failure stops the run.
	Probe Operation[struct{}]

	// SpecFetch is optional. Its failure is logged and the run continues.
	SpecFetch Operation[string]

	Load Operation[R]

	Reporter Reporter
	Log      logger.Logger

	state State
}

// State returns the state reached by the last Run.
func (o *Orchestrator[R]) State() State {
	return o.state
}

// Run performs one full run and returns the load result unmodified. The
// tunnel is opened once for the whole run and closed before returning.
func (o *Orchestrator[R]) Run(ctx context.Context) (R, error) {
	var zero R
	o.state = StateIdle
	log := o.Log
	if log == nil {
		log = logger.Noop()
	}

	if err := o.phase("Opening tunnel", func() error { return o.Tunnel.Start(ctx) }); err != nil {
		o.state = StateFailed
		return zero, errors.NewStepError(StepTunnel, err)
	}
	defer func() {
		if err := o.Tunnel.Stop(); err != nil {
			log.Warn("tunnel did not stop cleanly: %v", err)
		}
	}()

	var cred *credential.Credential
	issue := OperationFunc[*credential.Credential](func(ctx context.Context, _ OperationContext) (*credential.Credential, error) {
		return o.Issuer.Issue(ctx, o.Principal, o.Lifespan)
	})
	err := o.phase("Issuing credential", func() error {
		var err error
		cred, err = RunThrough[*credential.Credential](ctx, o.Tunnel, issue, nil, log)
		return err
	})
	if err != nil {
		o.state = StateFailed
		return zero, errors.NewStepError(StepCredential, err)
	}
	o.state = StateAuthenticated

	err = o.phase("Checking API", func() error {
		_, err := RunThrough(ctx, o.Tunnel, o.Probe, cred, log)
		if err != nil && errors.CodeOf(err) == "" {
			err = errors.WrapWithCode(err, errors.ErrConnectivity,
				"Slurm REST API did not answer the ping",
				"Check that slurmrestd is running and reachable from the gateway")
		}
		return err
	})
	if err != nil {
		o.state = StateFailed
		return zero, errors.NewStepError(StepPing, err)
	}
	o.state = StateVerified

	if o.SpecFetch == nil {
		o.report().RenderSkipped("Fetching OpenAPI document", "disabled")
	} else {
		var path string
		err = o.phase("Fetching OpenAPI document", func() error {
			var err error
			path, err = RunThrough(ctx, o.Tunnel, o.SpecFetch, cred, log)
			return err
		})
		if err != nil {
			log.Warn("%v", errors.NewStepError(StepOpenAPI, err))
		} else {
			log.Info("OpenAPI document written to %s", path)
		}
	}
	o.state = StateSpecFetched

	if o.Load == nil {
		o.report().RenderSkipped("Loading data", "not requested")
		return zero, nil
	}

	var result R
	err = o.phase("Loading data", func() error {
		var err error
		result, err = RunThrough(ctx, o.Tunnel, o.Load, cred, log)
		return err
	})
	if err != nil {
		o.state = StateFailed
		return zero, errors.NewStepError(StepLoad, err)
	}
	o.state = StateLoaded
	log.Info("load finished: %v", result)

	return result, nil
}

func (o *Orchestrator[R]) phase(name string, fn func() error) error {
	rep := o.report()
	rep.RenderProgress(name)
	start := time.Now()
	if err := fn(); err != nil {
		rep.RenderFailed(name, time.Since(start), err)
		return err
	}
	rep.RenderSuccess(name, time.Since(start))
	return nil
}

func (o *Orchestrator[R]) report() Reporter {
	if o.Reporter == nil {
		return nopReporter{}
	}
	return o.Reporter
}

type nopReporter struct{}

func (nopReporter) RenderProgress(string)                     {}
func (nopReporter) RenderSuccess(string, time.Duration)       {}
func (nopReporter) RenderFailed(string, time.Duration, error) {}
func (nopReporter) RenderSkipped(string, string)              {}
