// Command slurmmon loads Slurm cluster data through an SSH gateway.
package main

import (
	"github.com/slurmmon/slurmmon/internal/cli"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	cli.Execute()
}
