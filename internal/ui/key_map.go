package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	toggle   key.Binding
	next     key.Binding
	previous key.Binding
	forward  key.Binding
	back     key.Binding
	louder   key.Binding
	quieter  key.Binding
	shuffle  key.Binding
	repeat   key.Binding
	radio    key.Binding
	view     key.Binding
	enter    key.Binding
	quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		toggle:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		next:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next")),
		previous: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "previous")),
		forward:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "+10s")),
		back:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "-10s")),
		louder:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "volume up")),
		quieter:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "volume down")),
		shuffle:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "shuffle")),
		repeat:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "repeat")),
		radio:    key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "radio")),
		view:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "queue")),
		enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play selected")),
		quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.toggle, k.next, k.previous, k.view, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.toggle, k.next, k.previous},
		{k.forward, k.back, k.louder, k.quieter},
		{k.shuffle, k.repeat, k.radio},
		{k.view, k.enter, k.quit},
	}
}
