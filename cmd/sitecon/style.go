package main

import "github.com/charmbracelet/lipgloss"

// palette holds the terminal colors used for command output.
type palette struct {
	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Dim     lipgloss.Color
}

var defaultPalette = palette{
	Accent:  lipgloss.Color("#7aa2f7"),
	Success: lipgloss.Color("#9ece6a"),
	Warning: lipgloss.Color("#e0af68"),
	Error:   lipgloss.Color("#f7768e"),
	Dim:     lipgloss.Color("#565f89"),
}

type outputStyles struct {
	Header  lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
}

func newOutputStyles(p palette) outputStyles {
	return outputStyles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(p.Accent),
		Label:   lipgloss.NewStyle().Foreground(p.Dim).Width(16),
		Success: lipgloss.NewStyle().Foreground(p.Success),
		Warning: lipgloss.NewStyle().Foreground(p.Warning),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(p.Error),
		Dim:     lipgloss.NewStyle().Foreground(p.Dim),
	}
}

var styles = newOutputStyles(defaultPalette)
