package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/extract"
	"github.com/slurmmon/slurmmon/internal/remote"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/spf13/cobra"
)

var (
	runFlags RunFlags
	runJSON  bool

	localFlags   RunFlags
	localBaseURL string
	localUser    string
	localToken   string
	localJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tunnel to the gateway and load cluster state",
	Long: `Open the SSH tunnel, issue a token, ping slurmrestd, save the OpenAPI
document and load every configured resource into the store.

A failed OpenAPI fetch is only a warning. Any other failure ends the run;
with --retries the whole run is repeated when the tunnel or API could not
be reached.

Examples:
  slurmmon run
  slurmmon run --timeout 5m --retries 2
  slurmmon run --resource nodes --resource jobs --no-openapi
  slurmmon run --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), cmd.OutOrStdout(), runFlags, runJSON)
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Load cluster state from a directly reachable REST API",
	Long: `Skip the tunnel and token steps and load straight from --base-url,
e.g. when running on the login node itself or through a forward you
manage yourself.

Examples:
  slurmmon local --base-url http://localhost:6820 --token "$SLURM_JWT"
  slurmmon local --base-url http://slurm:6820 --user alice --resource nodes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return localCommand(cmd.Context(), cmd.OutOrStdout(), localFlags, localJSON)
	},
}

func init() {
	AddRunFlags(runCmd, &runFlags)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(runCmd)

	localCmd.Flags().StringVar(&localBaseURL, "base-url", "http://localhost:6820", "REST API base URL")
	localCmd.Flags().StringVar(&localUser, "user", os.Getenv("USER"), "value for X-SLURM-USER-NAME")
	localCmd.Flags().StringVar(&localToken, "token", os.Getenv("SLURM_JWT"), "value for X-SLURM-USER-TOKEN (default $SLURM_JWT)")
	localCmd.Flags().StringSliceVar(&localFlags.Resources, "resource", nil, "load only these resources (repeatable; default from config)")
	localCmd.Flags().StringVar(&localFlags.Timeout, "timeout", "", "deadline for the load (e.g., 90s, 5m)")
	localCmd.Flags().BoolVar(&localJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(localCmd)
}

func runCommand(ctx context.Context, out io.Writer, flags RunFlags, jsonOut bool) error {
	machineMode = jsonOut
	timeout, err := ParseTimeout(flags.Timeout)
	if err != nil {
		return err
	}

	phaseOut := out
	if jsonOut {
		phaseOut = io.Discard
	}
	wf, err := SetupWorkflow(WorkflowOptions{
		SkipOpenAPI: flags.NoOpenAPI,
		Resources:   flags.Resources,
		Output:      phaseOut,
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	info, err := wf.Run(ctx, timeout, flags.Retries)
	if err != nil {
		return err
	}
	return reportLoad(out, wf, info, jsonOut)
}

func localCommand(ctx context.Context, out io.Writer, flags RunFlags, jsonOut bool) error {
	machineMode = jsonOut
	timeout, err := ParseTimeout(flags.Timeout)
	if err != nil {
		return err
	}
	if localBaseURL == "" {
		return errors.New(errors.ErrConfig, "--base-url is empty", "Pass the slurmrestd URL, e.g. http://localhost:6820")
	}

	phaseOut := out
	if jsonOut {
		phaseOut = io.Discard
	}
	wf, err := SetupWorkflow(WorkflowOptions{
		Resources: flags.Resources,
		Output:    phaseOut,
		Local:     true,
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	info, err := wf.RunLocal(ctx, timeout, remote.OperationContext{
		BaseURL:   localBaseURL,
		Principal: localUser,
		Token:     localToken,
	})
	if err != nil {
		return err
	}
	return reportLoad(out, wf, info, jsonOut)
}

// RunLocal runs the load against oc.BaseURL without a tunnel or token step.
func (w *WorkflowContext) RunLocal(ctx context.Context, timeout time.Duration, oc remote.OperationContext) (*extract.LoadInfo, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	loader, err := w.NewLoader()
	if err != nil {
		return nil, err
	}

	const phase = "Loading data"
	w.PhaseDisplay.RenderProgress(phase)
	start := time.Now()
	info, err := loader.Load(ctx, oc)
	if err != nil {
		w.PhaseDisplay.RenderFailed(phase, time.Since(start), err)
		return nil, errors.NewStepError(remote.StepLoad, err)
	}
	w.PhaseDisplay.RenderSuccess(phase, time.Since(start))
	return info, nil
}

// loadResult is the --json shape of a finished load.
type loadResult struct {
	RunID       string         `json:"run_id"`
	Pipeline    string         `json:"pipeline"`
	Dataset     string         `json:"dataset"`
	Destination string         `json:"destination"`
	Tables      map[string]int `json:"tables"`
	Rows        int            `json:"rows"`
	SpecPath    string         `json:"openapi_path,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}

func reportLoad(out io.Writer, wf *WorkflowContext, info *extract.LoadInfo, jsonOut bool) error {
	if jsonOut {
		return WriteJSONSuccess(out, loadResult{
			RunID:       info.RunID,
			Pipeline:    info.Pipeline,
			Dataset:     info.Dataset,
			Destination: info.Destination,
			Tables:      info.Tables,
			Rows:        info.Rows(),
			SpecPath:    wf.SpecPath,
			DurationMS:  info.FinishedAt.Sub(info.StartedAt).Milliseconds(),
		})
	}

	var warnings []string
	if wf.SpecPath == "" && wf.Config.OpenAPI.Enabled && !wf.opts.SkipOpenAPI && !wf.opts.Local {
		warnings = append(warnings, "OpenAPI document was not saved; see the log for why")
	}

	wf.PhaseDisplay.Divider()
	fmt.Fprintln(out, ui.RenderLoadSummary(&ui.LoadSummary{
		RunID:       info.RunID,
		Destination: info.Destination,
		Tables:      info.Tables,
		SpecPath:    wf.SpecPath,
		Warnings:    warnings,
	}))
	return nil
}
