package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/tunnel"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/spf13/cobra"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Hold the tunnel open until interrupted",
	Long: `Open the SSH forward to slurmrestd and keep it up until you press q,
hit Ctrl+C, or the process gets SIGTERM. Use it to point other tools at
http://localhost:<local_port>.

Examples:
  slurmmon tunnel
  slurmmon tunnel --no-color &`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return tunnelCommand(ctx, cmd.OutOrStdout(), cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(tunnelCmd)
}

func tunnelCommand(ctx context.Context, out io.Writer, in io.Reader) error {
	wf, err := SetupWorkflow(WorkflowOptions{Output: out})
	if err != nil {
		return err
	}
	defer wf.Close()

	mgr, err := wf.NewTunnel()
	if err != nil {
		return err
	}

	start := time.Now()
	wf.PhaseDisplay.RenderProgress("Opening tunnel")
	if err := mgr.Start(ctx); err != nil {
		wf.PhaseDisplay.RenderFailed("Opening tunnel", time.Since(start), err)
		return err
	}
	wf.PhaseDisplay.RenderSuccess("Opening tunnel", time.Since(start))

	var lost bool
	if isTerminal(out) && isTerminal(in) {
		view := ui.NewTunnelView(tunnelInfo(wf, mgr), mgr.IsRunning, ui.DefaultCheckInterval)
		lost, err = ui.RunTunnelView(ctx, view, out, in)
	} else {
		fmt.Fprintf(out, "Forwarding %s %s %s:%d\n", mgr.BaseURL(), ui.SymbolArrow,
			wf.Config.Tunnel.RemoteHost, wf.Config.Tunnel.RemotePort)
		lost = WaitTunnel(ctx, mgr, ui.DefaultCheckInterval)
	}

	stopErr := mgr.Stop()
	if err != nil {
		return err
	}
	if lost {
		return errTunnelLost()
	}
	return stopErr
}

// errTunnelLost reports a tunnel that went away after it was up.
func errTunnelLost() error {
	return errors.New(errors.ErrConnection,
		"Tunnel closed unexpectedly",
		"Check the gateway connection; run with -v for the forwarder's output")
}

// WaitTunnel blocks until ctx ends or t stops running, checking every
// interval. It returns true when the tunnel went away first.
func WaitTunnel(ctx context.Context, t interface{ IsRunning() bool }, interval time.Duration) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !t.IsRunning() {
				return true
			}
		}
	}
}

func tunnelInfo(wf *WorkflowContext, mgr *tunnel.Manager) ui.TunnelInfo {
	spec := mgr.Spec()
	backend := wf.Config.Tunnel.Forwarder
	if backend == "" {
		backend = tunnel.KindProcess
		if spec.Gateway.Password != "" && spec.Gateway.KeyPath == "" {
			backend = tunnel.KindNative
		}
	}
	gateway := spec.Gateway.Address()
	if spec.Gateway.User != "" {
		gateway = spec.Gateway.User + "@" + gateway
	}
	return ui.TunnelInfo{
		Local:   spec.LocalAddress(),
		Remote:  spec.RemoteAddress(),
		Gateway: gateway,
		Backend: backend,
	}
}
