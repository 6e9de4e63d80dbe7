package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/slurmapi"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/slurmmon/slurmmon/internal/util"
	"github.com/spf13/cobra"
)

var (
	pingTimeout    string
	openapiTimeout string
	openapiOutput  string
	openapiNoCheck bool
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that slurmrestd answers through the tunnel",
	Long: `Open the tunnel, issue a token and call the ping endpoint. Nothing is
written to the store.

Examples:
  slurmmon ping
  slurmmon ping --timeout 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pingCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Save the API's OpenAPI document",
	Long: `Open the tunnel, issue a token, ping, then write the /openapi.json
document to disk byte for byte. The document is checked against the
OpenAPI 3 shape; a mismatch is reported but the file is kept.

Examples:
  slurmmon openapi
  slurmmon openapi --output ./api/slurm_openapi.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return openapiCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	pingCmd.Flags().StringVar(&pingTimeout, "timeout", "", "deadline for the whole check (e.g., 30s)")
	rootCmd.AddCommand(pingCmd)

	openapiCmd.Flags().StringVar(&openapiTimeout, "timeout", "", "deadline for the whole fetch (e.g., 30s)")
	openapiCmd.Flags().StringVarP(&openapiOutput, "output", "o", "", "where to write the document (default from config)")
	openapiCmd.Flags().BoolVar(&openapiNoCheck, "no-validate", false, "skip the OpenAPI shape check")
	rootCmd.AddCommand(openapiCmd)
}

func pingCommand(ctx context.Context, out io.Writer) error {
	timeout, err := ParseTimeout(pingTimeout)
	if err != nil {
		return err
	}
	wf, err := SetupWorkflow(WorkflowOptions{SkipOpenAPI: true, Output: out})
	if err != nil {
		return err
	}
	defer wf.Close()

	if err := wf.Probe(ctx, timeout); err != nil {
		return err
	}
	fmt.Fprintln(out, ui.FormatPhase(ui.SymbolSuccess, ui.ColorSuccess, "slurmrestd is answering", ""))
	return nil
}

func openapiCommand(ctx context.Context, out io.Writer) error {
	timeout, err := ParseTimeout(openapiTimeout)
	if err != nil {
		return err
	}
	wf, err := SetupWorkflow(WorkflowOptions{Output: out})
	if err != nil {
		return err
	}
	defer wf.Close()

	wf.Config.OpenAPI.Enabled = true
	if openapiOutput != "" {
		wf.Config.OpenAPI.Path = openapiOutput
	}
	if openapiNoCheck {
		wf.Config.OpenAPI.Validate = false
	}

	if err := wf.Probe(ctx, timeout); err != nil {
		return err
	}
	if wf.SpecPath == "" {
		return errors.New(errors.ErrConnectivity,
			"Couldn't fetch the OpenAPI document",
			"The API answered the ping; check the warning above and that this slurmrestd serves /openapi.json")
	}
	fmt.Fprintln(out, ui.FormatPhase(ui.SymbolSuccess, ui.ColorSuccess, "OpenAPI document saved to "+wf.SpecPath, ""))
	printSpecSummary(out, wf.SpecPath)
	return nil
}

// printSpecSummary lists the API paths of the saved document.
func printSpecSummary(out io.Writer, path string) {
	body, err := os.ReadFile(path)
	if err != nil {
		return
	}
	paths := slurmapi.Paths(body)
	fmt.Fprintf(out, "  %d API %s\n", len(paths), util.Pluralize(len(paths), "path", "paths"))
	for _, p := range paths {
		fmt.Fprintf(out, "    %s\n", p)
	}
}

// Probe runs the token and ping steps, plus the OpenAPI fetch when enabled,
// without loading anything.
func (w *WorkflowContext) Probe(ctx context.Context, timeout time.Duration) error {
	w.SpecPath = ""
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	mgr, err := w.NewTunnel()
	if err != nil {
		return err
	}
	_, err = w.NewOrchestrator(mgr, nil).Run(ctx)
	return err
}
