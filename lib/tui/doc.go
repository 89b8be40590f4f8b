// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui provides shared terminal UI pieces for deskline's
// bubbletea programs: the color [Theme] with light/dark detection, a
// slog [LogHandler] that feeds records into the program's status line,
// and a viewport scrollbar.
package tui
