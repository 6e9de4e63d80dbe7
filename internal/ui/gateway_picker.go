package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/slurmmon/slurmmon/pkg/sshutil"
)

// gatewayItem implements list.Item for an ~/.ssh/config entry.
type gatewayItem struct {
	entry sshutil.SSHHostEntry
}

func (i gatewayItem) Title() string       { return i.entry.Alias }
func (i gatewayItem) Description() string { return i.entry.Description() }

func (i gatewayItem) FilterValue() string {
	values := []string{i.entry.Alias}
	if i.entry.Hostname != "" {
		values = append(values, i.entry.Hostname)
	}
	if i.entry.User != "" {
		values = append(values, i.entry.User)
	}
	return strings.Join(values, " ")
}

// PickResult is the outcome of the gateway picker.
type PickResult int

const (
	PickCancelled PickResult = iota
	PickSelected
	PickManual
)

// GatewayPickerModel is a Bubble Tea model for choosing the gateway alias.
type GatewayPickerModel struct {
	list     list.Model
	selected *sshutil.SSHHostEntry
	result   PickResult
	quitting bool
}

type gatewayPickerKeyMap struct {
	Enter  key.Binding
	Manual key.Binding
	Quit   key.Binding
}

var gatewayPickerKeys = gatewayPickerKeyMap{
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	Manual: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "manual entry"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q/esc", "cancel"),
	),
}

// NewGatewayPickerModel creates a picker over entries.
func NewGatewayPickerModel(entries []sshutil.SSHHostEntry) GatewayPickerModel {
	items := make([]list.Item, len(entries))
	for i, e := range entries {
		items[i] = gatewayItem{entry: e}
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorPrimary).
		BorderForeground(ColorSecondary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorMuted)

	l := list.New(items, delegate, 80, 15)
	l.Title = "Which SSH host is the cluster gateway?"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 0, 1, 0)
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{gatewayPickerKeys.Manual}
	}

	return GatewayPickerModel{list: l}
}

// Init implements tea.Model.
func (m GatewayPickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m GatewayPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch {
		case key.Matches(msg, gatewayPickerKeys.Enter):
			if item, ok := m.list.SelectedItem().(gatewayItem); ok {
				entry := item.entry
				m.selected = &entry
				m.result = PickSelected
			}
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, gatewayPickerKeys.Manual):
			m.result = PickManual
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, gatewayPickerKeys.Quit):
			m.result = PickCancelled
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m GatewayPickerModel) View() string {
	if m.quitting {
		return ""
	}
	hint := lipgloss.NewStyle().
		Foreground(ColorMuted).
		Render("\n  Press 'm' to type the gateway host yourself")
	return m.list.View() + hint
}

// Selected returns the chosen entry, or nil.
func (m GatewayPickerModel) Selected() *sshutil.SSHHostEntry {
	return m.selected
}

// Result reports how the picker ended.
func (m GatewayPickerModel) Result() PickResult {
	return m.result
}

// PickGateway runs the picker on the given terminal streams. With no
// entries it returns PickManual straight away.
func PickGateway(entries []sshutil.SSHHostEntry, output io.Writer, input io.Reader) (*sshutil.SSHHostEntry, PickResult, error) {
	if len(entries) == 0 {
		return nil, PickManual, nil
	}

	p := tea.NewProgram(
		NewGatewayPickerModel(entries),
		tea.WithOutput(output),
		tea.WithInput(input),
	)

	finalModel, err := p.Run()
	if err != nil {
		return nil, PickCancelled, fmt.Errorf("gateway picker error: %w", err)
	}

	m, ok := finalModel.(GatewayPickerModel)
	if !ok {
		return nil, PickCancelled, nil
	}
	return m.Selected(), m.Result(), nil
}
