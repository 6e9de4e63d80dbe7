// Package cli implements the slurmmon command-line interface.
//
// The package is organized around Cobra commands, with each command
// delegating to a WorkflowContext for the actual work. It carries the
// loaded config, process settings, logger and phase display, and builds
// the components a command needs:
//
//   - the tunnel manager (process or native forwarder)
//   - the credential issuer (remote executor on the gateway)
//   - the store and loader for resource extraction
//   - the orchestrator that sequences all of it
//
// # Command Structure
//
// The root command is "slurmmon" with subcommands:
//
//	slurmmon run              - Tunnel, token, ping, OpenAPI fetch and load
//	slurmmon local            - Load straight from a reachable REST API
//	slurmmon ping             - Tunnel, token and ping only
//	slurmmon openapi          - Tunnel, token and OpenAPI fetch only
//	slurmmon token            - Print a fresh SLURM_JWT line
//	slurmmon exec <command>   - Run a command on the gateway
//	slurmmon tunnel           - Hold the tunnel open until interrupted
//	slurmmon schedule         - Run on the configured cron schedule
//	slurmmon runs             - List recorded loads
//	slurmmon check            - Diagnose config, SSH and store problems
//	slurmmon init             - Create slurmmon.yaml
//	slurmmon config set k v   - Edit one value in slurmmon.yaml
//	slurmmon config show      - Print the effective config
//
// # Flag Handling
//
// Global flags (--config, --verbose, --no-color) are defined on the root
// command and available to all subcommands. Process-level knobs such as
// the log level and SSH password come from SLURMMON_* environment
// variables, never from flags.
package cli
