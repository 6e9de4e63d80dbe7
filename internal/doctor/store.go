package doctor

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/store"
)

// StoreCheck opens the store and reports on the last recorded load.
type StoreCheck struct {
	Path string
}

func (c *StoreCheck) Name() string     { return "store" }
func (c *StoreCheck) Category() string { return CategoryStore }

func (c *StoreCheck) Run(context.Context) CheckResult {
	st, err := store.Open(c.Path, logger.Noop())
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Can't open %s: %s", c.Path, firstLine(err)),
			Suggestion: suggestionOf(err, "Check store.path and directory permissions"),
		}
	}
	defer st.Close() //nolint:errcheck // read-only use

	runs, err := st.Runs(1)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusFail,
			Message: "Can't read load history: " + firstLine(err),
		}
	}
	if len(runs) == 0 {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: fmt.Sprintf("%s (no loads yet)", c.Path),
		}
	}

	last := runs[0]
	if last.Status == store.RunFailed {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Last load %s failed: %s", last.StartedAt.Format("2006-01-02 15:04"), last.Error),
			Suggestion: "Run 'slurmmon run -v' to retry with debug logging",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (last load %s, %s)", c.Path, last.StartedAt.Format("2006-01-02 15:04"), last.Status),
	}
}

func (c *StoreCheck) Fix() error {
	return nil
}

// suggestionOf returns the suggestion carried by a structured error, or fallback.
func suggestionOf(err error, fallback string) string {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Suggestion != "" {
		return e.Suggestion
	}
	return fallback
}
