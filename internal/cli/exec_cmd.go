package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run a command on the gateway",
	Long: `Run a shell command on the configured gateway over a fresh SSH
connection and print its output. Handy for checking what the token
command or sinfo returns.

Examples:
  slurmmon exec sinfo
  slurmmon exec "scontrol ping"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return execCommand(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}

func execCommand(ctx context.Context, stdout, stderr io.Writer, command string) error {
	wf, err := SetupWorkflow(WorkflowOptions{Output: io.Discard})
	if err != nil {
		return err
	}
	defer wf.Close()

	return wf.Exec(ctx, stdout, stderr, command)
}

// Exec runs command on the gateway and copies its output. A non-zero exit
// is returned as an EXEC error.
func (w *WorkflowContext) Exec(ctx context.Context, stdout, stderr io.Writer, command string) error {
	res, err := sshutil.NewExecutor(w.Log).Execute(ctx, w.Gateway, command)
	if err != nil {
		return err
	}
	if res.Stdout != "" {
		fmt.Fprintln(stdout, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintln(stderr, res.Stderr)
	}
	if res.ExitCode != 0 {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("'%s' exited with code %d on %s", command, res.ExitCode, w.Gateway.Host),
			"Check the command's output above")
	}
	return nil
}
