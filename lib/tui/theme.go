// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme defines the color palette for deskline's terminal UI. All
// colors use lipgloss ANSI 256-color codes for broad terminal
// compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Sender names. OwnSender marks messages from the session user.
	SenderName lipgloss.Color
	OwnSender  lipgloss.Color

	// Connection banner, one per connection state.
	StateConnected    lipgloss.Color
	StateConnecting   lipgloss.Color
	StateReconnecting lipgloss.Color
	StateFailed       lipgloss.Color
	StateDisconnected lipgloss.Color

	// Failed sends and error records in the status line.
	ErrorText lipgloss.Color
	WarnText  lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	HeaderBackground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
	Accent           lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("243"),

	SenderName: lipgloss.Color("75"),  // blue
	OwnSender:  lipgloss.Color("114"), // green

	StateConnected:    lipgloss.Color("114"), // green
	StateConnecting:   lipgloss.Color("220"), // amber
	StateReconnecting: lipgloss.Color("208"), // orange
	StateFailed:       lipgloss.Color("196"), // red
	StateDisconnected: lipgloss.Color("245"), // gray

	ErrorText: lipgloss.Color("203"),
	WarnText:  lipgloss.Color("220"),

	HeaderForeground: lipgloss.Color("255"),
	HeaderBackground: lipgloss.Color("236"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),
	Accent:           lipgloss.Color("141"), // light purple
}

// LightTheme is DefaultTheme adjusted for light backgrounds.
var LightTheme = Theme{
	NormalText: lipgloss.Color("235"),
	FaintText:  lipgloss.Color("246"),

	SenderName: lipgloss.Color("25"),
	OwnSender:  lipgloss.Color("28"),

	StateConnected:    lipgloss.Color("28"),
	StateConnecting:   lipgloss.Color("136"),
	StateReconnecting: lipgloss.Color("166"),
	StateFailed:       lipgloss.Color("160"),
	StateDisconnected: lipgloss.Color("244"),

	ErrorText: lipgloss.Color("160"),
	WarnText:  lipgloss.Color("136"),

	HeaderForeground: lipgloss.Color("232"),
	HeaderBackground: lipgloss.Color("253"),
	BorderColor:      lipgloss.Color("250"),
	HelpText:         lipgloss.Color("244"),
	Accent:           lipgloss.Color("91"),
}

// DetectTheme picks DefaultTheme or LightTheme from the terminal's
// reported background. Terminals that do not answer are treated as
// dark.
func DetectTheme(output *termenv.Output) Theme {
	if output != nil && !output.HasDarkBackground() {
		return LightTheme
	}
	return DefaultTheme
}
