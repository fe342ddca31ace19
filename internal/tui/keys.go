package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the transport key bindings.
type KeyMap struct {
	Toggle key.Binding
	Rewind key.Binding
	Mute   key.Binding
	Reset  key.Binding
	Avatar key.Binding
	Help   key.Binding
	Quit   key.Binding
}

var DefaultKeyMap = KeyMap{
	Toggle: key.NewBinding(
		key.WithKeys(" ", "p"),
		key.WithHelp("space", "play/pause"),
	),
	Rewind: key.NewBinding(
		key.WithKeys("left", "r"),
		key.WithHelp("←/r", "rewind"),
	),
	Mute: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "mute"),
	),
	Reset: key.NewBinding(
		key.WithKeys("0", "home"),
		key.WithHelp("0", "reset"),
	),
	Avatar: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "video/image"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "q"),
		key.WithHelp("q", "quit"),
	),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Rewind, k.Mute, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Rewind, k.Mute},
		{k.Reset, k.Avatar, k.Help, k.Quit},
	}
}
