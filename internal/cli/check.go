package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/slurmmon/slurmmon/internal/config"
	"github.com/slurmmon/slurmmon/internal/doctor"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"github.com/spf13/cobra"
)

var (
	checkJSON    bool
	checkFix     bool
	checkOffline bool
	checkTimeout string
)

var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"doctor"},
	Short:   "Diagnose config, SSH, gateway and store problems",
	Long: `Run a series of checks and report what is likely to break a run: a
missing or invalid config, SSH key and agent setup, whether the gateway
lets you log in and issue a token, and whether the store opens.

Examples:
  slurmmon check
  slurmmon check --offline      # skip the gateway login and token checks
  slurmmon check --fix          # chmod an over-shared key
  slurmmon check --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output in JSON format")
	checkCmd.Flags().BoolVar(&checkFix, "fix", false, "attempt automatic fixes where possible")
	checkCmd.Flags().BoolVar(&checkOffline, "offline", false, "skip checks that connect to the gateway")
	checkCmd.Flags().StringVar(&checkTimeout, "timeout", "30s", "deadline for the gateway checks")
	rootCmd.AddCommand(checkCmd)
}

// CheckOutput represents the JSON output for the check command.
type CheckOutput struct {
	Categories []CheckCategory `json:"categories"`
	Summary    CheckSummary    `json:"summary"`
}

// CheckCategory represents a category of check results.
type CheckCategory struct {
	Name    string               `json:"name"`
	Results []doctor.CheckResult `json:"results"`
}

// CheckSummary summarizes the check results.
type CheckSummary struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	Fixable  int  `json:"fixable"`
	AllClear bool `json:"all_clear"`
}

func checkCommand(ctx context.Context, out io.Writer) error {
	machineMode = checkJSON
	timeout, err := ParseTimeout(checkTimeout)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	checks := CollectChecks(Config(), settings, sshutil.DefaultSSHConfigPath(), !checkOffline, rootLog)
	results := doctor.RunAll(ctx, checks)

	if checkFix {
		results = attemptFixes(ctx, checks, results)
	}

	if checkJSON {
		if err := WriteJSONSuccess(out, buildCheckOutput(checks, results)); err != nil {
			return err
		}
	} else {
		renderChecks(out, checks, results)
	}

	if doctor.HasFailures(results) {
		return errors.New(errors.ErrConfig,
			doctor.Summary(results),
			"Fix the failures above and run 'slurmmon check' again")
	}
	return nil
}

// CollectChecks gathers checks for the config at explicitPath (or the one
// found from the working directory). Gateway checks are only added when
// online is set and the config loads.
func CollectChecks(explicitPath string, s config.Settings, sshConfigPath string, online bool, log logger.Logger) []doctor.Check {
	cfgPath, findErr := config.Find(explicitPath)

	var cfg *config.Config
	var loadErr error
	if findErr == nil && cfgPath != "" {
		cfg, loadErr = config.Load(cfgPath)
	}

	checks := doctor.NewConfigChecks(explicitPath, cfg, loadErr)
	if cfg == nil {
		return checks
	}

	spec := config.GatewaySpec(cfg, s, sshConfigPath)
	checks = append(checks, doctor.NewSSHChecks(spec, cfg.Tunnel.Forwarder, cfg.Tunnel.SSHBinary)...)
	if online {
		runner := sshutil.NewExecutor(logger.Named(log, "check"))
		checks = append(checks, doctor.NewGatewayChecks(spec, runner, cfg.Credential.Command, cfg.Credential.Principal)...)
	}
	checks = append(checks, &doctor.StoreCheck{Path: cfg.Store.Path})
	return checks
}

// attemptFixes tries to fix issues where possible.
func attemptFixes(ctx context.Context, checks []doctor.Check, results []doctor.CheckResult) []doctor.CheckResult {
	for i, result := range results {
		if result.Fixable && result.Status != doctor.StatusPass {
			if err := checks[i].Fix(); err == nil {
				results[i] = checks[i].Run(ctx)
			}
		}
	}
	return results
}

func buildCheckOutput(checks []doctor.Check, results []doctor.CheckResult) CheckOutput {
	grouped := make(map[string][]doctor.CheckResult)
	var order []string
	for i, check := range checks {
		cat := check.Category()
		if _, exists := grouped[cat]; !exists {
			order = append(order, cat)
		}
		grouped[cat] = append(grouped[cat], results[i])
	}

	output := CheckOutput{Categories: make([]CheckCategory, 0, len(order))}
	for _, cat := range order {
		output.Categories = append(output.Categories, CheckCategory{Name: cat, Results: grouped[cat]})
	}

	counts := doctor.CountByStatus(results)
	output.Summary = CheckSummary{
		Pass:     counts[doctor.StatusPass],
		Warn:     counts[doctor.StatusWarn],
		Fail:     counts[doctor.StatusFail],
		Fixable:  doctor.FixableCount(results),
		AllClear: !doctor.HasIssues(results),
	}
	return output
}

func renderChecks(out io.Writer, checks []doctor.Check, results []doctor.CheckResult) {
	rows := make([]ui.CheckRow, len(checks))
	for i, check := range checks {
		rows[i] = ui.CheckRow{
			Status:     results[i].Status.String(),
			Category:   check.Category(),
			Message:    results[i].Message,
			Suggestion: results[i].Suggestion,
		}
	}

	fmt.Fprintln(out, ui.RenderCheckTable(rows))

	color := ui.ColorSuccess
	symbol := ui.SymbolSuccess
	if doctor.HasFailures(results) {
		color, symbol = ui.ColorError, ui.SymbolFail
	} else if doctor.HasIssues(results) {
		color, symbol = ui.ColorWarning, ui.SymbolWarning
	}
	summary := doctor.Summary(results)
	if n := doctor.FixableCount(results); n > 0 && !checkFix {
		summary += fmt.Sprintf(" (%d fixable with --fix)", n)
	}
	style := lipgloss.NewStyle().Foreground(color)
	fmt.Fprintf(out, "\n%s %s\n", style.Render(symbol), summary)
}
