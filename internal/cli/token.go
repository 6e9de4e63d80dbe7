package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var (
	tokenPrincipal string
	tokenLifespan  int
	tokenJSON      bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a Slurm JWT on the gateway and print it",
	Long: `Run the configured token command (scontrol token by default) on the
gateway and print its NAME=VALUE line, ready for eval.

Examples:
  eval "export $(slurmmon token)"
  slurmmon token --principal alice --lifespan 600
  slurmmon token --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tokenCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenPrincipal, "principal", "", "user to issue the token for (default from config, then the gateway user)")
	tokenCmd.Flags().IntVar(&tokenLifespan, "lifespan", 0, "token lifetime in seconds (default from config)")
	tokenCmd.Flags().BoolVar(&tokenJSON, "json", false, "print the credential as JSON")
	rootCmd.AddCommand(tokenCmd)
}

// tokenResult is the --json shape of an issued credential.
type tokenResult struct {
	Variable  string    `json:"variable"`
	Principal string    `json:"principal"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func tokenCommand(ctx context.Context, out io.Writer) error {
	machineMode = tokenJSON
	wf, err := SetupWorkflow(WorkflowOptions{Output: io.Discard})
	if err != nil {
		return err
	}
	defer wf.Close()

	principal := tokenPrincipal
	if principal == "" {
		principal = wf.Config.Credential.Principal
	}
	lifespan := tokenLifespan
	if lifespan <= 0 {
		lifespan = wf.Config.Credential.Lifespan
	}

	cred, err := wf.NewIssuer().Issue(ctx, principal, lifespan)
	if err != nil {
		return err
	}
	wf.Log.Info("issued %s", cred)

	if tokenJSON {
		return WriteJSONSuccess(out, tokenResult{
			Variable:  cred.Variable,
			Principal: cred.Principal,
			Token:     cred.Token,
			ExpiresAt: cred.ExpiresAt(),
		})
	}
	fmt.Fprintln(out, cred.EnvLine())
	return nil
}
