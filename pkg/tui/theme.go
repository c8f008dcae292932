package tui

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette of the stats screen. Colors are ANSI 256-color
// codes.
type Theme struct {
	Text    lipgloss.Color
	Faint   lipgloss.Color
	Header  lipgloss.Color
	Border  lipgloss.Color
	Help    lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme targets dark terminal backgrounds.
var DefaultTheme = Theme{
	Text:    lipgloss.Color("252"),
	Faint:   lipgloss.Color("245"),
	Header:  lipgloss.Color("255"),
	Border:  lipgloss.Color("240"),
	Help:    lipgloss.Color("241"),
	Warning: lipgloss.Color("220"), // amber
	Error:   lipgloss.Color("196"), // red
}

// styles are the rendered styles for one color setting.
type styles struct {
	header   lipgloss.Style
	title    lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	absent   lipgloss.Style
	failed   lipgloss.Style
	warning  lipgloss.Style
	critical lipgloss.Style
	help     lipgloss.Style
	box      lipgloss.Style
}

func newStyles(theme Theme, colors bool) styles {
	plain := lipgloss.NewStyle()
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		MarginRight(1)

	if !colors {
		return styles{
			header:   plain,
			title:    plain,
			label:    plain,
			value:    plain,
			absent:   plain,
			failed:   plain,
			warning:  plain,
			critical: plain,
			help:     plain,
			box:      box,
		}
	}

	return styles{
		header:   lipgloss.NewStyle().Bold(true).Foreground(theme.Header),
		title:    lipgloss.NewStyle().Bold(true).Foreground(theme.Header),
		label:    lipgloss.NewStyle().Foreground(theme.Faint),
		value:    lipgloss.NewStyle().Foreground(theme.Text),
		absent:   lipgloss.NewStyle().Foreground(theme.Faint),
		failed:   lipgloss.NewStyle().Foreground(theme.Error),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(theme.Warning),
		critical: lipgloss.NewStyle().Bold(true).Foreground(theme.Error),
		help:     lipgloss.NewStyle().Foreground(theme.Help),
		box:      box.BorderForeground(theme.Border),
	}
}
