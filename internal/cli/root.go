package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/slurmmon/slurmmon/internal/config"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Global flags
var (
	cfgFile string
	verbose bool
	noColor bool
)

// Process state set up once per invocation by setupEnvironment.
var (
	settings config.Settings
	rootLog  = logger.Noop()
)

var rootCmd = &cobra.Command{
	Use:   "slurmmon",
	Short: "Pull Slurm cluster state through an SSH tunnel",
	Long: `slurmmon opens an SSH tunnel to a Slurm login node, issues a JWT with
scontrol, checks that slurmrestd answers, saves its OpenAPI document and
loads nodes, partitions, jobs and friends into a local SQLite database.

Configuration lives in slurmmon.yaml (see 'slurmmon init'). Secrets such as
the SSH password come from SLURMMON_SSH_PASSWORD.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupEnvironment(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./slurmmon.yaml, then ~/.config/slurmmon/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Config returns the --config flag value.
func Config() string {
	return cfgFile
}

// setupEnvironment reads SLURMMON_* settings, builds the root logger and
// decides whether output gets colour.
func setupEnvironment(out io.Writer) error {
	s, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if verbose {
		s.LogLevel = "debug"
	}
	settings = s
	rootLog = logger.New(logger.Options{Level: s.LogLevel, Format: s.LogFormat})

	if noColor || s.NoColor || !isTerminal(out) {
		ui.DisableColors()
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	if MachineMode() {
		_ = WriteJSONFromError(os.Stdout, err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, err)
	if isUnknownCommandError(err) {
		fmt.Fprintln(os.Stderr, "Run 'slurmmon --help' to see the available commands.")
	}
	os.Exit(1)
}

// isUnknownCommandError reports whether cobra rejected the command line itself.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}
