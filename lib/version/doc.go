// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package version describes the running deskline binary for --version
// output and startup logs.
//
// Release builds set the version and commit with -ldflags -X:
//
//	go build -ldflags "-X github.com/deskline/deskline/lib/version.Version=1.0.0 -X github.com/deskline/deskline/lib/version.Commit=$(git rev-parse --short HEAD)"
//
// Without them, [Current] reads the revision, commit time and dirty
// flag from the VCS stamp in the binary's build info.
package version
