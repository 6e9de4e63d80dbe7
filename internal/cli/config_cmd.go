package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/slurmmon/slurmmon/internal/config"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit slurmmon.yaml",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one value in the config file",
	Long: `Set a dotted key in the config file found for this directory. Other
keys and comments are left alone. The result must still validate.

Examples:
  slurmmon config set gateway.host login.example.edu
  slurmmon config set tunnel.local_port 16820
  slurmmon config set schedule "*/15 * * * *"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSetCommand(cmd.OutOrStdout(), args[0], args[1])
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config (file, defaults and SLURMMON_* overrides)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowCommand(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func configSetCommand(out io.Writer, key, value string) error {
	path, err := config.Find(Config())
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'slurmmon init' first")
	}
	if err := SetConfigValue(path, key, value); err != nil {
		return err
	}
	fmt.Fprintf(out, "Set %s in %s\n", key, path)
	return nil
}

// SetConfigValue edits key in the file at path and rolls the edit back if
// the file no longer loads or validates.
func SetConfigValue(path, key, value string) error {
	before, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't read "+path, "Check file permissions")
	}

	if err := config.SetValue(path, key, value); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't set %s", key),
			"Keys look like gateway.host or tunnel.local_port")
	}

	cfg, err := config.Load(path)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		if restoreErr := os.WriteFile(path, before, 0600); restoreErr != nil {
			return errors.WrapWithCode(restoreErr, errors.ErrConfig,
				"Couldn't restore "+path+" after a bad edit",
				"Fix the file by hand")
		}
		return err
	}
	return nil
}

func configShowCommand(out io.Writer) error {
	cfg, path, err := config.LoadOrDefault(Config())
	if err != nil {
		return err
	}
	if cfg.Gateway.Password != "" {
		cfg.Gateway.Password = "********"
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(out, "# from %s\n", path)
	}
	_, err = out.Write(data)
	return err
}
