package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/slurmmon/slurmmon/internal/config"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/ui"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
	"github.com/spf13/cobra"
)

var (
	initForce          bool
	initNonInteractive bool
	initHost           string
	initUser           string
	initKey            string
	initGlobal         bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a slurmmon.yaml for a Slurm gateway",
	Long: `Create a config file describing the SSH gateway in front of your cluster.

Interactively, hosts from ~/.ssh/config are offered first; press 'm' to type
one in instead. With --non-interactive, --host is required and everything
else uses defaults.

Examples:
  slurmmon init
  slurmmon init --host hpc-login --user alice --non-interactive
  slurmmon init --global`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Init(InitOptions{
			Host:           initHost,
			User:           initUser,
			KeyPath:        initKey,
			Overwrite:      initForce,
			NonInteractive: initNonInteractive,
			Global:         initGlobal,
			Out:            cmd.OutOrStdout(),
		})
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "skip prompts")
	initCmd.Flags().StringVar(&initHost, "host", "", "gateway host or ~/.ssh/config alias")
	initCmd.Flags().StringVar(&initUser, "user", "", "gateway user")
	initCmd.Flags().StringVar(&initKey, "key", "", "private key path")
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "write ~/.config/slurmmon/config.yaml instead")
	rootCmd.AddCommand(initCmd)
}

// InitOptions holds options for the init command.
type InitOptions struct {
	Host           string
	User           string
	KeyPath        string
	Overwrite      bool
	NonInteractive bool
	Global         bool

	// Path overrides where the file is written.
	Path string
	// SSHConfigPath is where gateway aliases are read from.
	SSHConfigPath string
	Out           io.Writer
}

// Init writes a new config file.
func Init(opts InitOptions) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.SSHConfigPath == "" {
		opts.SSHConfigPath = sshutil.DefaultSSHConfigPath()
	}

	path, err := initPath(opts)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				"Config file already exists: "+path,
				"Use --force to overwrite")
		}

		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Config file '%s' already exists. Overwrite?", path)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !overwrite {
			fmt.Fprintln(opts.Out, "Cancelled.")
			return nil
		}
	}

	var cfg *config.Config
	if opts.NonInteractive {
		cfg, err = buildInitConfig(opts)
	} else {
		cfg, err = promptInitConfig(opts)
	}
	if err != nil {
		return err
	}
	if cfg == nil {
		fmt.Fprintln(opts.Out, "Cancelled.")
		return nil
	}

	if err := config.Validate(cfg, config.RequireGateway()); err != nil {
		return err
	}
	if err := config.Write(path, cfg, true); err != nil {
		return err
	}

	fmt.Fprintf(opts.Out, "%s Created %s\n\n", ui.SymbolSuccess, path)
	fmt.Fprintln(opts.Out, "Next steps:")
	fmt.Fprintln(opts.Out, "  slurmmon check    - Check SSH and gateway access")
	fmt.Fprintln(opts.Out, "  slurmmon ping     - Open the tunnel and ping slurmrestd")
	fmt.Fprintln(opts.Out, "  slurmmon run      - Load cluster data into the store")
	return nil
}

func initPath(opts InitOptions) (string, error) {
	switch {
	case opts.Path != "":
		return opts.Path, nil
	case opts.Global:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot determine home directory",
				"Set HOME or drop --global")
		}
		return config.GlobalConfigPath(home), nil
	default:
		return filepath.Join(".", config.ConfigFileName), nil
	}
}

// buildInitConfig fills defaults around the flag values.
func buildInitConfig(opts InitOptions) (*config.Config, error) {
	if opts.Host == "" {
		return nil, errors.New(errors.ErrConfig,
			"Gateway host is required in non-interactive mode",
			"Provide --host or run interactively")
	}

	cfg := config.DefaultConfig()
	cfg.Gateway.Host = opts.Host
	cfg.Gateway.User = opts.User
	cfg.Gateway.KeyPath = opts.KeyPath

	// An alias in ~/.ssh/config can supply the user; keep the file minimal
	// and let it be resolved at connect time.
	if cfg.Gateway.User == "" && !hasSSHAlias(opts.SSHConfigPath, opts.Host) {
		cfg.Gateway.User = os.Getenv("USER")
	}
	return cfg, nil
}

func hasSSHAlias(sshConfigPath, alias string) bool {
	entries, err := sshutil.ParseSSHConfigFile(sshConfigPath)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Alias == alias && e.User != "" {
			return true
		}
	}
	return false
}

// promptInitConfig returns nil without error when the user backs out.
func promptInitConfig(opts InitOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	host, user, keyPath := opts.Host, opts.User, opts.KeyPath

	if host == "" {
		entries, _ := sshutil.ParseSSHConfigFile(opts.SSHConfigPath)
		if len(entries) > 0 {
			entry, result, err := ui.PickGateway(entries, os.Stderr, os.Stdin)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Gateway picker failed",
					"Pass --host instead")
			}
			switch result {
			case ui.PickCancelled:
				return nil, nil
			case ui.PickSelected:
				host = entry.Alias
				// The alias already carries these.
				user, keyPath = "", ""
			}
		}
	}

	remotePort := strconv.Itoa(cfg.Tunnel.RemotePort)
	localPort := strconv.Itoa(cfg.Tunnel.LocalPort)
	remoteHost := cfg.Tunnel.RemoteHost
	if user == "" && host == "" {
		user = os.Getenv("USER")
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway host or SSH alias").
				Description("The login node you can ssh into").
				Placeholder("hpc-login.example.edu").
				Value(&host).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("gateway host is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Gateway user").
				Description("Leave empty to use the SSH alias's User").
				Value(&user),
			huh.NewInput().
				Title("Private key (optional)").
				Description("Leave empty to use the agent or SLURMMON_SSH_PASSWORD").
				Placeholder("~/.ssh/id_ed25519").
				Value(&keyPath),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("slurmrestd host").
				Description("As seen from the gateway").
				Value(&remoteHost).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("host is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("slurmrestd port").
				Value(&remotePort).
				Validate(validatePortInput),
			huh.NewInput().
				Title("Local port").
				Value(&localPort).
				Validate(validatePortInput),
		),
	)
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Try --non-interactive with --host")
	}

	cfg.Gateway.Host = strings.TrimSpace(host)
	cfg.Gateway.User = strings.TrimSpace(user)
	cfg.Gateway.KeyPath = strings.TrimSpace(keyPath)
	cfg.Tunnel.RemoteHost = strings.TrimSpace(remoteHost)
	cfg.Tunnel.RemotePort, _ = strconv.Atoi(remotePort)
	cfg.Tunnel.LocalPort, _ = strconv.Atoi(localPort)
	return cfg, nil
}

func validatePortInput(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("enter a port between 1 and 65535")
	}
	return nil
}
