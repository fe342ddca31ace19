package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	OffWhite = lipgloss.Color("#f8f7f4")
	DarkGray = lipgloss.Color("#333333")
	Amber    = lipgloss.Color("#e0a526")
	Red      = lipgloss.Color("#c0392b")
	Dim      = lipgloss.Color("#7a7a7a")

	// Styles
	TitleStyle = lipgloss.NewStyle().
		Background(Teal).
		Foreground(OffWhite).
		Bold(true).
		Padding(0, 1)

	BadgeStyle = lipgloss.NewStyle().
		Foreground(OffWhite).
		Background(DarkGray).
		Padding(0, 1).
		MarginRight(1)

	ActiveBadgeStyle = BadgeStyle.
		Background(Teal)

	WarnBadgeStyle = BadgeStyle.
		Background(Amber).
		Foreground(DarkGray)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(Red).
		Bold(true)

	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Teal).
		Padding(0, 1)

	CaptionStyle = lipgloss.NewStyle().
		Foreground(Dim)

	ActiveCaptionStyle = lipgloss.NewStyle().
		Foreground(OffWhite).
		Bold(true)
)
