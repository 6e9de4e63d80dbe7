// Package ui provides terminal output for slurmmon's CLI.
//
// # Components Overview
//
//	PhaseDisplay  - Renders run phases (tunnel, credential, ping, openapi, load)
//	TunnelView    - Bubble Tea status view for a long-lived tunnel
//	GatewayPicker - Interactive ~/.ssh/config alias selection for `slurmmon init`
//	Tables        - Load-run history and per-table row counts
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - Successful phases
//	ColorError     (red)    - Failures
//	ColorWarning   (yellow) - Warnings and skipped phases
//	ColorInfo      (cyan)   - Paths and identifiers
//	ColorMuted     (gray)   - Secondary text, timing info
//	ColorSecondary (blue)   - In-progress indicators
//
// Use DisableColors() for monochrome output (--no-color, NO_COLOR, or a
// non-terminal stdout).
//
// # Phase Display
//
//	pd := ui.NewPhaseDisplay(os.Stdout)
//	pd.RenderProgress("Opening tunnel")
//	pd.RenderSuccess("Opening tunnel", 300*time.Millisecond)
//
// *PhaseDisplay satisfies remote.Reporter, so it can be handed straight to
// an Orchestrator.
package ui
