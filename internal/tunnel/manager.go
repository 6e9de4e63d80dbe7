package tunnel

import (
	"context"
	"fmt"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
)

// Default timings for Manager.
const (
	DefaultGrace       = 500 * time.Millisecond
	DefaultStopTimeout = 5 * time.Second
)

// Handle is a live forward returned by a Forwarder.
type Handle interface {
	// Done is closed once the forward has exited.
	Done() <-chan struct{}

	// Detail describes why the forward exited (error output, exit status).
	Detail() string

	// Terminate asks the forward to shut down.
	Terminate() error

	// Kill forces the forward down.
	Kill() error
}

// Forwarder opens forwards for a Spec.
type Forwarder interface {
	Open(ctx context.Context, spec Spec) (Handle, error)
}

// Options tunes Manager timings. Zero values use the defaults.
type Options struct {
	Grace       time.Duration
	StopTimeout time.Duration
}

// Manager owns at most one forward. It is not safe for concurrent use.
type Manager struct {
	spec        Spec
	forwarder   Forwarder
	log         logger.Logger
	grace       time.Duration
	stopTimeout time.Duration

	handle Handle
}

// NewManager creates a stopped Manager for spec.
func NewManager(spec Spec, forwarder Forwarder, log logger.Logger, opts Options) *Manager {
	if log == nil {
		log = logger.Noop()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		spec:        spec,
		forwarder:   forwarder,
		log:         log,
		grace:       opts.Grace,
		stopTimeout: opts.StopTimeout,
	}
}

// Spec returns the forward this manager runs.
func (m *Manager) Spec() Spec {
	return m.spec
}

// BaseURL is the local HTTP endpoint of the forward.
func (m *Manager) BaseURL() string {
	return m.spec.BaseURL()
}

// IsRunning reports whether the forward is up. A forward that exited on its
// own is noticed here and the manager returns to stopped.
func (m *Manager) IsRunning() bool {
	if m.handle == nil {
		return false
	}
	select {
	case <-m.handle.Done():
		detail := m.handle.Detail()
		m.handle = nil
		m.log.Warn("tunnel to %s exited: %s", m.spec.RemoteAddress(), detail)
		return false
	default:
		return true
	}
}

// Start opens the forward and waits out the grace interval. Calling Start on
// a running manager does nothing.
func (m *Manager) Start(ctx context.Context) error {
	if m.IsRunning() {
		m.log.Debug("tunnel already running on %s", m.spec.LocalAddress())
		return nil
	}
	if err := m.spec.Validate(); err != nil {
		return err
	}

	m.log.Debug("opening tunnel %s -> %s via %s",
		m.spec.LocalAddress(), m.spec.RemoteAddress(), m.spec.Gateway.Address())

	handle, err := m.forwarder.Open(ctx, m.spec)
	if err != nil {
		return err
	}

	timer := time.NewTimer(m.grace)
	defer timer.Stop()

	select {
	case <-handle.Done():
		return errors.New(errors.ErrTunnelStart,
			fmt.Sprintf("Tunnel to %s exited during startup: %s", m.spec.RemoteAddress(), handle.Detail()),
			startSuggestion(m.spec))
	case <-ctx.Done():
		_ = handle.Kill()
		return errors.WrapWithCode(ctx.Err(), errors.ErrTunnelStart,
			"Tunnel startup was cancelled",
			"")
	case <-timer.C:
	}

	m.handle = handle
	m.log.Info("tunnel up: %s -> %s", m.spec.LocalAddress(), m.spec.RemoteAddress())
	return nil
}

// Stop terminates the forward and waits up to the stop timeout. If the
// forward is still alive after that it is killed and a TUNNEL_STOP error is
// returned; the manager is stopped either way. Stop on a stopped manager does
// nothing.
func (m *Manager) Stop() error {
	if m.handle == nil {
		return nil
	}
	handle := m.handle
	m.handle = nil

	select {
	case <-handle.Done():
		m.log.Debug("tunnel had already exited: %s", handle.Detail())
		return nil
	default:
	}

	if err := handle.Terminate(); err != nil {
		m.log.Debug("terminate tunnel: %v", err)
	}

	timer := time.NewTimer(m.stopTimeout)
	defer timer.Stop()

	select {
	case <-handle.Done():
		m.log.Info("tunnel down: %s", m.spec.LocalAddress())
		return nil
	case <-timer.C:
		_ = handle.Kill()
		return errors.New(errors.ErrTunnelStop,
			fmt.Sprintf("Tunnel on %s did not exit within %s", m.spec.LocalAddress(), m.stopTimeout),
			"The forward was killed. Check for a leftover ssh process holding the port.")
	}
}

func startSuggestion(spec Spec) string {
	return fmt.Sprintf("Check that local port %d is free and that %s is reachable from %s",
		spec.LocalPort, spec.RemoteAddress(), spec.Gateway.Host)
}
