package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/spf13/cobra"
)

var (
	scheduleFlags RunFlags
	scheduleExpr  string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run loads on a cron schedule",
	Long: `Run the full load every time the cron expression fires, until
interrupted. Each tick is an independent run with its own tunnel and
token; a tick that fires while the previous run is still going is skipped.
A failed run is logged and the schedule carries on.

Examples:
  slurmmon schedule                       # uses 'schedule' from slurmmon.yaml
  slurmmon schedule --cron "*/15 * * * *"
  slurmmon schedule --cron "@hourly" --retries 2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return scheduleCommand(ctx, cmd.OutOrStdout())
	},
}

func init() {
	AddRunFlags(scheduleCmd, &scheduleFlags)
	scheduleCmd.Flags().StringVar(&scheduleExpr, "cron", "", "cron expression (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}

func scheduleCommand(ctx context.Context, out io.Writer) error {
	timeout, err := ParseTimeout(scheduleFlags.Timeout)
	if err != nil {
		return err
	}
	wf, err := SetupWorkflow(WorkflowOptions{
		SkipOpenAPI: scheduleFlags.NoOpenAPI,
		Resources:   scheduleFlags.Resources,
		Output:      out,
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	expr := scheduleExpr
	if expr == "" {
		expr = wf.Config.Schedule
	}

	sched, err := NewScheduler(expr, wf.Log, func(ctx context.Context) {
		info, err := wf.Run(ctx, timeout, scheduleFlags.Retries)
		if err != nil {
			wf.Log.Error("scheduled run failed: %v", err)
			return
		}
		if err := reportLoad(out, wf, info, false); err != nil {
			wf.Log.Warn("printing summary: %v", err)
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Running on schedule %q, next at %s; press Ctrl+C to stop\n",
		expr, sched.Next(time.Now()).Format(time.RFC3339))
	sched.Run(ctx)
	return nil
}

// Scheduler fires a job on a cron schedule. Overlapping ticks are skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	job      func(ctx context.Context)
	ctx      context.Context
}

// NewScheduler parses expr (standard five fields or a @descriptor) and
// registers job. job receives the context passed to Run.
func NewScheduler(expr string, log logger.Logger, job func(ctx context.Context)) (*Scheduler, error) {
	if expr == "" {
		return nil, errors.New(errors.ErrConfig,
			"No schedule configured",
			"Set 'schedule' in slurmmon.yaml or pass --cron, e.g. --cron \"*/15 * * * *\"")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' is not a valid cron expression", expr),
			"Use five fields (minute hour day month weekday) or a descriptor like @hourly")
	}
	if log == nil {
		log = logger.Noop()
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))),
		schedule: schedule,
		job:      job,
		ctx:      context.Background(),
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.job(s.ctx) }))
	return s, nil
}

// Next is the first tick after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run fires the job until ctx ends, then waits for a running job to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// cronLogger sends cron's own messages to a Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
