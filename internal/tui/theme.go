package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme contains style tokens used by the terminal UI.
type Theme struct {
	Name            string
	StatusBarStyle  lipgloss.Style
	SidebarStyle    lipgloss.Style
	ChatStyle       lipgloss.Style
	SelectedStyle   lipgloss.Style
	UnselectedStyle lipgloss.Style
	UnreadStyle     lipgloss.Style
	OwnPrefixStyle  lipgloss.Style
	PeerPrefixStyle lipgloss.Style
	TimestampStyle  lipgloss.Style
	ErrorStyle      lipgloss.Style
	MutedStyle      lipgloss.Style
	FocusedLabel    lipgloss.Style
	BlurredLabel    lipgloss.Style
}

// ResolveTheme returns the configured theme or the dark default.
func ResolveTheme(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "light":
		return newLightTheme()
	default:
		return newDarkTheme()
	}
}

func newDarkTheme() Theme {
	border := lipgloss.Color("63")
	muted := lipgloss.Color("245")
	return Theme{
		Name: "dark",
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("63")).
			Padding(0, 1),
		SidebarStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		ChatStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		SelectedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		UnselectedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		UnreadStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("161")).Padding(0, 1),
		OwnPrefixStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		PeerPrefixStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		TimestampStyle:  lipgloss.NewStyle().Foreground(muted),
		ErrorStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		MutedStyle:      lipgloss.NewStyle().Foreground(muted).Italic(true),
		FocusedLabel:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		BlurredLabel:    lipgloss.NewStyle().Foreground(muted),
	}
}

func newLightTheme() Theme {
	border := lipgloss.Color("246")
	muted := lipgloss.Color("240")
	return Theme{
		Name: "light",
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("189")).
			Padding(0, 1),
		SidebarStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		ChatStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		SelectedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
		UnselectedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("16")),
		UnreadStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("125")).Padding(0, 1),
		OwnPrefixStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
		PeerPrefixStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		TimestampStyle:  lipgloss.NewStyle().Foreground(muted),
		ErrorStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		MutedStyle:      lipgloss.NewStyle().Foreground(muted).Italic(true),
		FocusedLabel:    lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		BlurredLabel:    lipgloss.NewStyle().Foreground(muted),
	}
}
