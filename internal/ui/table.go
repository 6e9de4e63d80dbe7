package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RunRow is one line of the load history table.
type RunRow struct {
	ID       string
	Status   string // running, succeeded, failed
	Started  string
	Duration string
	Rows     int
	Error    string
}

// RenderRunsTable renders load history, newest first as given.
func RenderRunsTable(rows []RunRow) string {
	if len(rows) == 0 {
		return "No loads recorded yet"
	}

	successStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ColorError)
	progressStyle := lipgloss.NewStyle().Foreground(ColorSecondary)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorMuted)

	var b strings.Builder
	b.WriteString(headerStyle.Render("  STATUS  RUN                                   STARTED               ROWS   TIME"))
	b.WriteString("\n")

	for _, row := range rows {
		var icon string
		switch row.Status {
		case "succeeded":
			icon = successStyle.Render(SymbolComplete)
		case "failed":
			icon = errorStyle.Render(SymbolFail)
		default:
			icon = progressStyle.Render(SymbolProgress)
		}

		b.WriteString("  " + icon + "       ")
		b.WriteString(padRight(row.ID, 38))
		b.WriteString(padRight(row.Started, 22))
		b.WriteString(padRight(fmt.Sprintf("%d", row.Rows), 7))
		b.WriteString(mutedStyle.Render(row.Duration))
		b.WriteString("\n")

		if row.Error != "" {
			b.WriteString("          " + errorStyle.Render(row.Error) + "\n")
		}
	}

	return b.String()
}

// RenderCountsTable renders per-table row counts sorted by table name.
func RenderCountsTable(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	names := make([]string, 0, len(counts))
	width := 0
	for name := range counts {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	var b strings.Builder
	for _, name := range names {
		b.WriteString("  " + mutedStyle.Render(SymbolArrow) + " ")
		b.WriteString(padRight(name, width+2))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d rows", counts[name])))
		b.WriteString("\n")
	}
	return b.String()
}

// CheckRow is one line of `slurmmon check` output.
type CheckRow struct {
	Status     string // "pass", "warn", "fail"
	Category   string
	Message    string
	Suggestion string
}

// RenderCheckTable renders check results grouped by category in the
// order categories first appear.
func RenderCheckTable(rows []CheckRow) string {
	if len(rows) == 0 {
		return "No checks to display"
	}

	successStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ColorError)
	warnStyle := lipgloss.NewStyle().Foreground(ColorWarning)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	categories := make(map[string][]CheckRow)
	order := []string{}
	for _, row := range rows {
		if _, exists := categories[row.Category]; !exists {
			order = append(order, row.Category)
		}
		categories[row.Category] = append(categories[row.Category], row)
	}

	var b strings.Builder
	for _, cat := range order {
		b.WriteString(headerStyle.Render(cat) + "\n")

		for _, row := range categories[cat] {
			var icon string
			switch row.Status {
			case "pass":
				icon = successStyle.Render(SymbolComplete)
			case "warn":
				icon = warnStyle.Render(SymbolWarning)
			case "fail":
				icon = errorStyle.Render(SymbolFail)
			default:
				icon = mutedStyle.Render(SymbolPending)
			}

			b.WriteString("  " + icon + " " + row.Message + "\n")
			if row.Suggestion != "" && row.Status != "pass" {
				b.WriteString("    " + mutedStyle.Render(row.Suggestion) + "\n")
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// padRight pads a string to the specified visible width.
func padRight(s string, width int) string {
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleLen)
}
