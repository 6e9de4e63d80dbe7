// Package remote runs operations against the Slurm REST API through an SSH
// tunnel and sequences the full ingest run.
package remote

import (
	"context"
	"time"

	"github.com/slurmmon/slurmmon/internal/credential"
	"github.com/slurmmon/slurmmon/internal/logger"
)

// OperationContext is what an operation gets to reach the API. It is built
// fresh for every invocation.
type OperationContext struct {
	BaseURL   string
	Principal string
	Token     string
}

// Operation is something that can run against the API endpoint.
type Operation[R any] interface {
	Invoke(ctx context.Context, oc OperationContext) (R, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc[R any] func(ctx context.Context, oc OperationContext) (R, error)

// Invoke calls f.
func (f OperationFunc[R]) Invoke(ctx context.Context, oc OperationContext) (R, error) {
	return f(ctx, oc)
}

// Tunnel is the forward an operation runs through. *tunnel.Manager
// satisfies it.
type Tunnel interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	BaseURL() string
}

// RunThrough makes sure the tunnel is up, invokes op, and leaves the tunnel
// in the state it found it: a tunnel started here is stopped here, even when
// op fails. cred may be nil.
//
// The operation's own error wins over a stop failure, which is then only
// logged. If op succeeded but the tunnel would not stop, the result is
// returned together with the stop error.
func RunThrough[R any](ctx context.Context, t Tunnel, op Operation[R], cred *credential.Credential, log logger.Logger) (result R, err error) {
	if log == nil {
		log = logger.Noop()
	}

	wasRunning := t.IsRunning()
	if !wasRunning {
		if err := t.Start(ctx); err != nil {
			return result, err
		}
		defer func() {
			stopErr := t.Stop()
			if stopErr == nil {
				return
			}
			if err != nil {
				log.Warn("tunnel did not stop cleanly: %v", stopErr)
				return
			}
			err = stopErr
		}()
	}

	oc := OperationContext{BaseURL: t.BaseURL()}
	if cred != nil {
		if cred.Expired(time.Now()) {
			log.Warn("credential for %s expired at %s", cred.Principal, cred.ExpiresAt().Format(time.RFC3339))
		}
		oc.Principal = cred.Principal
		oc.Token = cred.Token
	}

	return op.Invoke(ctx, oc)
}
