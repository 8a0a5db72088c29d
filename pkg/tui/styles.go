package tui

import "github.com/charmbracelet/lipgloss"

const sidebarWidth = 30

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	muted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	danger = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F87"}

	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderRight(true).
			BorderForeground(muted)

	sidebarFocusedStyle = sidebarStyle.BorderForeground(accent)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Padding(0, 1)

	itemStyle     = lipgloss.NewStyle()
	activeStyle   = lipgloss.NewStyle().Foreground(accent).Bold(true)
	cursorStyle   = lipgloss.NewStyle().Reverse(true)
	userLabel     = lipgloss.NewStyle().Bold(true).Foreground(accent)
	botLabel      = lipgloss.NewStyle().Bold(true)
	statusStyle   = lipgloss.NewStyle().Foreground(muted).Padding(0, 1)
	errorStyle    = lipgloss.NewStyle().Foreground(danger).Padding(0, 1)
	helpStyle     = lipgloss.NewStyle().Foreground(muted)
	inputBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(muted)
)
