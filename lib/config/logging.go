// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// SlogLevel maps Level to a slog level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// NewHandler builds a slog handler writing to writer. Format "auto"
// selects text when writer is a terminal and JSON otherwise.
func (l LogConfig) NewHandler(writer io.Writer) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := l.Format
	if format == "auto" || format == "" {
		format = "json"
		if file, ok := writer.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.NewTextHandler(writer, options), nil
	case "json":
		return slog.NewJSONHandler(writer, options), nil
	}
	return nil, fmt.Errorf("config: log.format must be text, json, or auto, got %q", l.Format)
}
