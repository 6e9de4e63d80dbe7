package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// LoadSummary holds what a finished run produced.
type LoadSummary struct {
	RunID       string
	Destination string
	Tables      map[string]int
	SpecPath    string // empty when the OpenAPI fetch was skipped or failed
	Warnings    []string
}

// RenderLoadSummary formats a finished run for the terminal.
func RenderLoadSummary(s *LoadSummary) string {
	if s == nil {
		return ""
	}

	successStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	pathStyle := lipgloss.NewStyle().Foreground(ColorInfo)
	warnStyle := lipgloss.NewStyle().Foreground(ColorWarning)

	total := 0
	for _, n := range s.Tables {
		total += n
	}
	rowWord := "row"
	if total != 1 {
		rowWord = "rows"
	}

	var b strings.Builder
	b.WriteString(successStyle.Render(fmt.Sprintf("%s Loaded %d %s", SymbolSuccess, total, rowWord)))
	b.WriteString(" into ")
	b.WriteString(pathStyle.Render(s.Destination))
	b.WriteString("\n")
	b.WriteString(RenderCountsTable(s.Tables))

	if s.SpecPath != "" {
		b.WriteString("  OpenAPI document: " + pathStyle.Render(s.SpecPath) + "\n")
	}
	if s.RunID != "" {
		b.WriteString("  Run: " + s.RunID + "\n")
	}
	for _, w := range s.Warnings {
		b.WriteString("  " + warnStyle.Render(SymbolWarning+" "+w) + "\n")
	}

	return b.String()
}
