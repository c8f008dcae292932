package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the stats screen.
type KeyMap struct {
	Colors   key.Binding
	Logs     key.Binding
	NextCard key.Binding

	// Scrolling applies to the log screen only.
	Up   key.Binding
	Down key.Binding

	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Colors: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "colors"),
	),
	Logs: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "logs"),
	),
	NextCard: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "next card"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "scroll down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp returns the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Colors, k.Logs, k.NextCard, k.Quit}
}

// FullHelp returns every binding, grouped by screen.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Up, k.Down}}
}

// logKeys is the help view of the log screen.
type logKeys struct {
	KeyMap
}

func (k logKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Logs, k.Quit}
}
