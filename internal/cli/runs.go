package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/slurmmon/slurmmon/internal/store"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/spf13/cobra"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded loads",
	Long: `Show the most recent loads recorded in the store, newest first, with
their status and row counts.

Examples:
  slurmmon runs
  slurmmon runs --limit 50 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsCommand(cmd.OutOrStdout())
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "how many runs to show (0 for all)")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}

// runEntry is the --json shape of a recorded load.
type runEntry struct {
	ID         string         `json:"id"`
	Pipeline   string         `json:"pipeline"`
	Dataset    string         `json:"dataset"`
	Status     string         `json:"status"`
	Tables     map[string]int `json:"tables"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func runsCommand(out io.Writer) error {
	machineMode = runsJSON
	wf, err := SetupWorkflow(WorkflowOptions{Output: io.Discard, Local: true})
	if err != nil {
		return err
	}
	defer wf.Close()

	st, err := wf.OpenStore()
	if err != nil {
		return err
	}
	runs, err := st.Runs(runsLimit)
	if err != nil {
		return err
	}

	if runsJSON {
		entries := make([]runEntry, 0, len(runs))
		for _, r := range runs {
			entries = append(entries, runEntry{
				ID:         r.ID,
				Pipeline:   r.Pipeline,
				Dataset:    r.Dataset,
				Status:     r.Status,
				Tables:     r.TableCounts(),
				Error:      r.Error,
				StartedAt:  r.StartedAt,
				FinishedAt: r.FinishedAt,
			})
		}
		return WriteJSONSuccess(out, entries)
	}

	fmt.Fprintln(out, ui.RenderRunsTable(runRows(runs)))
	return nil
}

// runRows converts recorded runs for display.
func runRows(runs []store.LoadRun) []ui.RunRow {
	rows := make([]ui.RunRow, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		row := ui.RunRow{
			ID:      r.ID,
			Status:  r.Status,
			Started: r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			Error:   r.Error,
		}
		for _, n := range r.TableCounts() {
			row.Rows += n
		}
		if r.FinishedAt != nil {
			row.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, row)
	}
	return rows
}
