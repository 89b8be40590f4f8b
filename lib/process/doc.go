// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the deskline
// binaries. main() calls run() and hands any error to [Fatal], which
// is the one place that writes to stderr before a logger exists.
//
// Command-line mistakes are wrapped with [Usage] so they exit with
// status 2 instead of 1.
package process
