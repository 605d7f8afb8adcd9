package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains the visual styling for the panel.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Running lipgloss.Style
	Halted  lipgloss.Style
	Stopped lipgloss.Style
	Done    lipgloss.Style
	Error   lipgloss.Style
	Subtle  lipgloss.Style
	Help    lipgloss.Style
	Box     lipgloss.Style
}

// DefaultStyles returns the default panel styling.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		Label: lipgloss.NewStyle().
			Width(10).
			Foreground(lipgloss.Color("245")),
		Running: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Halted:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Stopped: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Done:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}
}
