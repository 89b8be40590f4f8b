// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the key bindings of the conversation view. Printable
// keys always go to the input line, so every binding uses a modifier
// or a navigation key.
type KeyMap struct {
	Submit   key.Binding
	Retry    key.Binding // Failed connection, else the latest failed send.
	Discard  key.Binding // Drop the latest failed send.
	PageUp   key.Binding
	PageDown key.Binding
	Bottom   key.Binding
	Quit     key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "send"),
	),
	Retry: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("C-r", "retry"),
	),
	Discard: key.NewBinding(
		key.WithKeys("ctrl+x"),
		key.WithHelp("C-x", "discard failed"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup", "ctrl+u"),
		key.WithHelp("PgUp", "older"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown", "ctrl+d"),
		key.WithHelp("PgDn", "newer"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("ctrl+g"),
		key.WithHelp("C-g", "latest"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("Esc", "quit"),
	),
}

// helpLine renders the bindings for the status line.
func (keys KeyMap) helpLine() string {
	bindings := []key.Binding{keys.Submit, keys.Retry, keys.Discard, keys.PageUp, keys.PageDown, keys.Quit}
	parts := make([]string, 0, len(bindings)+1)
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	parts = append(parts, "/join <room>")
	return strings.Join(parts, " · ")
}
