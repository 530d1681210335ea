// Package watch implements the `mediaflow system watch` TUI: live batch
// progress built from the server's event stream.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	OK    lipgloss.Style
	Busy  lipgloss.Style
	Alert lipgloss.Style
	Muted lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerOn  lipgloss.Style
	TickerOff lipgloss.Style

	byStatus map[jobs.Status]lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#8B87FF"}
	dim := lipgloss.AdaptiveColor{Light: "#9A9A9A", Dark: "#7A7A7A"}

	t := Theme{
		OK:    lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950")),
		Busy:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922")),
		Alert: lipgloss.NewStyle().Foreground(lipgloss.Color("#F85149")).Bold(true),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6E7681")).Strikethrough(true),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(dim),
		Highlight: lipgloss.NewStyle().Foreground(accent).Bold(true),

		TickerOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950")),
		TickerOff: lipgloss.NewStyle().Foreground(dim),
	}
	t.byStatus = map[jobs.Status]lipgloss.Style{
		jobs.StatusCompleted:  t.OK,
		jobs.StatusProcessing: t.Busy,
		jobs.StatusFailed:     t.Alert,
		jobs.StatusCanceled:   t.Muted,
	}
	return t
}

// Status returns the style for a job or batch status. Queued, idle and
// unknown values render dim.
func (t Theme) Status(status string) lipgloss.Style {
	if s, ok := t.byStatus[jobs.Status(status)]; ok {
		return s
	}
	return t.Dim
}
