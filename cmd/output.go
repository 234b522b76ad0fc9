package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/workbench"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF8787"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	labelStyle   = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("#54A0FF"))
)

func printAlert(w io.Writer, a alert.Alert) {
	marker := successStyle.Render("●")
	if a.Level == alert.LevelError {
		marker = errorStyle.Render("✗")
	}
	line := fmt.Sprintf("%s %s", marker, titleStyle.Render(a.Title))
	if a.Description != "" {
		line += " " + subtleStyle.Render(a.Description)
	}
	_, _ = fmt.Fprintln(w, line)
	if a.Content != "" {
		_, _ = fmt.Fprintln(w, subtleStyle.Render(a.Content))
	}
}

func printField(w io.Writer, label string, value any) {
	_, _ = fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label), value)
}

func printMetrics(w io.Writer, m workbench.Metrics) {
	printField(w, "processed", m.Processed)
	errs := fmt.Sprint(m.Errors)
	if m.Errors > 0 {
		errs = errorStyle.Render(errs)
	}
	printField(w, "errors", errs)
	printField(w, "queued", m.QueueLength)
	if m.AlertsDropped > 0 {
		printField(w, "dropped", fmt.Sprintf("%d alerts", m.AlertsDropped))
	}
}

func printSuccess(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, successStyle.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// renderMarkdown renders md for the terminal, falling back to the raw
// text when no renderer can be built.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
