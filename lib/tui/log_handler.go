// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// LogRecordMsg delivers a slog record to the bubbletea model for
// display in the status line.
type LogRecordMsg struct {
	// Summary is "message (key=value, ...)".
	Summary string
	Level   slog.Level
}

// LogRecordFadeDelay is how long a log record stays in the status
// line before the help text returns.
const LogRecordFadeDelay = 5 * time.Second

// LogHandler is a slog.Handler that routes records into a bubbletea
// program as LogRecordMsg. Writing to stderr would corrupt the
// alt-screen display.
//
// Records arriving before SetProgram are dropped. Handlers derived via
// WithAttrs and WithGroup share the program pointer, so one
// SetProgram call reaches all of them.
type LogHandler struct {
	level   slog.Leveler
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	group   string
}

// NewLogHandler creates a handler delivering records at or above level.
func NewLogHandler(level slog.Leveler) *LogHandler {
	return &LogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram sets the program that receives records. Safe to call
// from any goroutine.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}

	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, handler.format(attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, handler.format(attr))
		return true
	})

	summary := record.Message
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	program.Send(LogRecordMsg{Summary: summary, Level: record.Level})
	return nil
}

func (handler *LogHandler) format(attr slog.Attr) string {
	key := attr.Key
	if handler.group != "" {
		key = handler.group + "." + key
	}
	return fmt.Sprintf("%s=%s", key, attr.Value.Resolve())
}

func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = append(append([]slog.Attr(nil), handler.attrs...), attrs...)
	return &derived
}

func (handler *LogHandler) WithGroup(name string) slog.Handler {
	derived := *handler
	if derived.group == "" {
		derived.group = name
	} else {
		derived.group += "." + name
	}
	return &derived
}
