package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SpinnerFrames are the animation frames shared by Bubble Tea views.
var SpinnerFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

// DefaultCheckInterval is how often TunnelView polls the tunnel.
const DefaultCheckInterval = time.Second

// TunnelInfo describes the forward being watched.
type TunnelInfo struct {
	Local   string // 127.0.0.1:6820
	Remote  string // slurm:6820
	Gateway string // alice@login.example.edu:22
	Backend string // process or native
}

// TunnelView is a Bubble Tea model that shows a live tunnel until the
// user quits or the tunnel goes away.
type TunnelView struct {
	info     TunnelInfo
	alive    func() bool
	interval time.Duration
	spinner  spinner.Model
	started  time.Time
	now      func() time.Time
	lost     bool
	quitting bool
}

type checkMsg struct{}

var tunnelQuitKey = key.NewBinding(
	key.WithKeys("q", "esc", "ctrl+c"),
	key.WithHelp("q", "close tunnel"),
)

// NewTunnelView creates a view that calls alive every interval.
func NewTunnelView(info TunnelInfo, alive func() bool, interval time.Duration) TunnelView {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	sp := spinner.New()
	sp.Spinner = SpinnerFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorSecondary)

	return TunnelView{
		info:     info,
		alive:    alive,
		interval: interval,
		spinner:  sp,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Init implements tea.Model.
func (m TunnelView) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.check())
}

func (m TunnelView) check() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return checkMsg{} })
}

// Update implements tea.Model.
func (m TunnelView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, tunnelQuitKey) {
			m.quitting = true
			return m, tea.Quit
		}
	case checkMsg:
		if !m.alive() {
			m.lost = true
			return m, tea.Quit
		}
		return m, m.check()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m TunnelView) View() string {
	muted := lipgloss.NewStyle().Foreground(ColorMuted)
	up := formatDuration(m.now().Sub(m.started))

	if m.lost {
		return FormatPhase(SymbolFail, ColorError, "Tunnel closed unexpectedly", up) + "\n"
	}
	if m.quitting {
		return FormatPhase(SymbolComplete, ColorSuccess, "Tunnel closed", up) + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Forwarding %s %s %s %s\n",
		m.spinner.View(), m.info.Local, SymbolArrow, m.info.Remote, muted.Render(up))
	if m.info.Gateway != "" {
		fmt.Fprintf(&b, "  %s\n", muted.Render("via "+m.info.Gateway+" ("+m.info.Backend+")"))
	}
	fmt.Fprintf(&b, "  %s\n", muted.Render("press q to close"))
	return b.String()
}

// Lost reports whether the view ended because the tunnel died.
func (m TunnelView) Lost() bool {
	return m.lost
}

// RunTunnelView shows the view until quit, tunnel loss, or ctx ends.
// It returns true when the tunnel went away on its own.
func RunTunnelView(ctx context.Context, view TunnelView, output io.Writer, input io.Reader) (bool, error) {
	p := tea.NewProgram(view,
		tea.WithContext(ctx),
		tea.WithOutput(output),
		tea.WithInput(input),
	)

	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("tunnel view error: %w", err)
	}
	if m, ok := final.(TunnelView); ok {
		return m.Lost(), nil
	}
	return false, nil
}
