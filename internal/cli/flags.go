package cli

import (
	"fmt"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/spf13/cobra"
)

// RunFlags holds the flags shared by run and schedule.
type RunFlags struct {
	Timeout   string
	Retries   uint64
	NoOpenAPI bool
	Resources []string
}

// AddRunFlags registers --timeout, --retries, --no-openapi and --resource on a command.
func AddRunFlags(cmd *cobra.Command, flags *RunFlags) {
	cmd.Flags().StringVar(&flags.Timeout, "timeout", "", "deadline for the whole run (e.g., 90s, 5m)")
	cmd.Flags().Uint64Var(&flags.Retries, "retries", 0, "retry the whole run this many times on tunnel or connectivity failures")
	cmd.Flags().BoolVar(&flags.NoOpenAPI, "no-openapi", false, "skip fetching the OpenAPI document")
	cmd.Flags().StringSliceVar(&flags.Resources, "resource", nil, "load only these resources (repeatable; default from config)")
}

// ParseTimeout parses a duration flag. Returns zero duration if the flag is empty.
func ParseTimeout(flag string) (time.Duration, error) {
	if flag == "" {
		return 0, nil
	}

	duration, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid timeout", flag),
			"Try something like 90s, 5m, or 500ms.")
	}
	if duration < 0 {
		return 0, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' is a negative timeout", flag),
			"Use a positive duration, or leave --timeout off for no deadline.")
	}
	return duration, nil
}
