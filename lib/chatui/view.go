// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/deskline/deskline/lib/tui"
	"github.com/deskline/deskline/livesync"
)

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "connecting…"
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(model.viewport.Width).Height(model.viewport.Height).Render(model.viewport.View()),
		tui.RenderScrollbar(model.theme, model.viewport.Height,
			model.viewport.TotalLineCount(), model.viewport.Height, model.viewport.YOffset),
	)
	return strings.Join([]string{
		model.renderHeader(),
		body,
		model.input.View(),
		model.renderStatus(),
	}, "\n")
}

// renderHeader draws the room name on the left and the connection
// banner on the right.
func (model Model) renderHeader() string {
	style := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Background(model.theme.HeaderBackground)

	title := " deskline"
	if !model.room.IsZero() {
		title += " · " + model.room.String()
	}
	banner := lipgloss.NewStyle().
		Foreground(model.stateColor()).
		Background(model.theme.HeaderBackground).
		Render("● " + model.state.String() + " ")

	gap := model.width - ansi.StringWidth(title) - ansi.StringWidth(banner)
	if gap < 1 {
		title = ansi.Truncate(title, max(0, model.width-ansi.StringWidth(banner)-1), "…")
		gap = 1
	}
	return style.Render(title+strings.Repeat(" ", gap)) + banner
}

func (model Model) stateColor() lipgloss.Color {
	switch model.state {
	case livesync.Connected:
		return model.theme.StateConnected
	case livesync.Connecting:
		return model.theme.StateConnecting
	case livesync.Reconnecting:
		return model.theme.StateReconnecting
	case livesync.Failed:
		return model.theme.StateFailed
	}
	return model.theme.StateDisconnected
}

// renderStatus draws the latest status or log record, or the key help
// when there is none.
func (model Model) renderStatus() string {
	if model.status == "" {
		help := lipgloss.NewStyle().Foreground(model.theme.HelpText)
		return help.Render(ansi.Truncate(model.keys.helpLine(), model.width, "…"))
	}
	color := model.theme.NormalText
	switch {
	case model.statusLevel >= slog.LevelError:
		color = model.theme.ErrorText
	case model.statusLevel >= slog.LevelWarn:
		color = model.theme.WarnText
	}
	return lipgloss.NewStyle().Foreground(color).Render(ansi.Truncate(model.status, model.width, "…"))
}

// renderStream renders every entry, wrapped to width.
func (model Model) renderStream(width int) string {
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	if model.room.IsZero() {
		return faint.Render("No room selected. Type /join ticket/<id> or /join forum/<id>.")
	}
	if len(model.entries) == 0 {
		return faint.Render("No messages yet.")
	}

	wrap := lipgloss.NewStyle().Width(max(1, width))
	rows := make([]string, 0, len(model.entries))
	for _, entry := range model.entries {
		rows = append(rows, wrap.Render(model.renderEntry(entry)))
	}
	return strings.Join(rows, "\n")
}

func (model Model) renderEntry(entry livesync.Entry) string {
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	text := lipgloss.NewStyle().Foreground(model.theme.NormalText)

	nameColor := model.theme.SenderName
	if entry.SenderID == model.user {
		nameColor = model.theme.OwnSender
	}
	name := entry.SenderDisplayName
	if name == "" {
		name = entry.SenderID.String()
	}

	timestamp := faint.Render(entry.CreatedAt.Local().Format("15:04"))
	sender := lipgloss.NewStyle().Foreground(nameColor).Bold(true).Render(name)

	switch entry.Status {
	case livesync.EntrySending:
		return timestamp + " " + faint.Render(name+": "+entry.Content+" …")
	case livesync.EntryFailed:
		failure := lipgloss.NewStyle().Foreground(model.theme.ErrorText)
		reason := "not delivered"
		if err := model.failures[entry.LocalID]; err != nil {
			reason = err.Error()
		}
		return timestamp + " " + sender + ": " + failure.Render(entry.Content) +
			failure.Render(" ✗ "+reason+" ("+model.keys.Retry.Help().Key+" retry, "+model.keys.Discard.Help().Key+" discard)")
	}
	line := timestamp + " " + sender + ": " + text.Render(entry.Content)
	if entry.Placeholder() {
		// Acknowledged, waiting for the server copy.
		line += faint.Render(" ✓")
	}
	return line
}
