package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// DividerWidth is the default width for divider lines.
const DividerWidth = 64

// PhaseStatus is the outcome of a rendered phase.
type PhaseStatus int

const (
	PhaseRunning PhaseStatus = iota
	PhaseSucceeded
	PhaseFailed
	PhaseSkipped
)

// Phase records one rendered phase.
type Phase struct {
	Name     string
	Status   PhaseStatus
	Duration time.Duration
	Detail   string // skip reason or first line of the error
}

// PhaseDisplay renders phase status to an output writer.
// Safe for concurrent use.
type PhaseDisplay struct {
	mu          sync.Mutex
	w           io.Writer
	interactive bool
	phases      []Phase
}

// NewPhaseDisplay creates a new phase display writing to w. In-progress
// lines are only drawn when w is a terminal; see SetInteractive.
func NewPhaseDisplay(w io.Writer) *PhaseDisplay {
	return &PhaseDisplay{
		w:      w,
		phases: make([]Phase, 0),
	}
}

// SetInteractive enables the overwritable in-progress line.
func (pd *PhaseDisplay) SetInteractive(on bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.interactive = on
}

// Phases returns a copy of every phase rendered so far.
func (pd *PhaseDisplay) Phases() []Phase {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	out := make([]Phase, len(pd.phases))
	copy(out, pd.phases)
	return out
}

// RenderProgress renders a phase in progress.
// Shows: ◐ Opening tunnel...
func (pd *PhaseDisplay) RenderProgress(name string) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	pd.phases = append(pd.phases, Phase{Name: name, Status: PhaseRunning})
	if !pd.interactive {
		return
	}
	style := lipgloss.NewStyle().Foreground(ColorSecondary)
	fmt.Fprintf(pd.w, "\r%s %s...", style.Render(SymbolProgress), name)
}

// RenderSuccess renders a completed phase.
// Shows: ● Opening tunnel 0.3s
func (pd *PhaseDisplay) RenderSuccess(name string, duration time.Duration) {
	pd.finish(name, PhaseSucceeded, duration, "")
	pd.line(SymbolComplete, ColorSuccess, name, formatDuration(duration))
}

// RenderFailed renders a failed phase and the first line of its error.
// Shows: ✗ Checking API 2.3s
func (pd *PhaseDisplay) RenderFailed(name string, duration time.Duration, err error) {
	detail := firstLine(err)
	pd.finish(name, PhaseFailed, duration, detail)
	pd.line(SymbolFail, ColorError, name, formatDuration(duration))
	if detail != "" {
		pd.RenderSubStatus(SymbolArrow, detail, "")
	}
}

// RenderSkipped renders a skipped phase.
// Shows: ⊘ Fetching OpenAPI document (disabled)
func (pd *PhaseDisplay) RenderSkipped(name string, reason string) {
	pd.finish(name, PhaseSkipped, 0, reason)
	timing := ""
	if reason != "" {
		timing = "(" + reason + ")"
	}
	pd.line(SymbolSkipped, ColorWarning, name, timing)
}

// RenderSubStatus renders an indented sub-status line.
// Shows:   → nodes            2 rows
func (pd *PhaseDisplay) RenderSubStatus(symbol string, name string, status string) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	style := lipgloss.NewStyle().Foreground(ColorMuted)
	if status == "" {
		fmt.Fprintf(pd.w, "  %s %s\n", style.Render(symbol), name)
		return
	}
	fmt.Fprintf(pd.w, "  %s %s %s\n", style.Render(symbol), name, style.Render(status))
}

// Divider renders a horizontal line to separate phases from results.
func (pd *PhaseDisplay) Divider() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	style := lipgloss.NewStyle().Foreground(ColorMuted)
	fmt.Fprintf(pd.w, "\n%s\n\n", style.Render(strings.Repeat("━", DividerWidth)))
}

func (pd *PhaseDisplay) finish(name string, status PhaseStatus, d time.Duration, detail string) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	for i := len(pd.phases) - 1; i >= 0; i-- {
		if pd.phases[i].Name == name && pd.phases[i].Status == PhaseRunning {
			pd.phases[i].Status = status
			pd.phases[i].Duration = d
			pd.phases[i].Detail = detail
			return
		}
	}
	pd.phases = append(pd.phases, Phase{Name: name, Status: status, Duration: d, Detail: detail})
}

func (pd *PhaseDisplay) line(symbol string, color lipgloss.Color, name, timing string) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.interactive {
		pd.clearLine()
	}
	fmt.Fprintln(pd.w, FormatPhase(symbol, color, name, timing))
}

// clearLine clears the current line (for overwriting progress output).
func (pd *PhaseDisplay) clearLine() {
	fmt.Fprint(pd.w, "\r"+strings.Repeat(" ", 80)+"\r")
}

// FormatPhase returns a formatted phase line as a string.
func FormatPhase(symbol string, symbolColor lipgloss.Color, name string, timing string) string {
	symbolStyle := lipgloss.NewStyle().Foreground(symbolColor)
	timingStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	if timing == "" {
		return fmt.Sprintf("%s %s", symbolStyle.Render(symbol), name)
	}
	return fmt.Sprintf("%s %s %s", symbolStyle.Render(symbol), name, timingStyle.Render(timing))
}

// formatDuration formats a duration for display (e.g., "0.3s", "2.1s").
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0.1 {
		return fmt.Sprintf("%.2fs", secs)
	}
	if secs >= 60 {
		return d.Round(time.Second).String()
	}
	return fmt.Sprintf("%.1fs", secs)
}

// firstLine picks the headline out of a structured error ("✗ <message>").
func firstLine(err error) string {
	if err == nil {
		return ""
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), SymbolFail))
		if line != "" {
			return line
		}
	}
	return ""
}
