// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version and Commit may be set with -ldflags -X. An empty Commit
// falls back to the VCS stamp the go command embeds.
var (
	Version = "0.1.0-dev"
	Commit  = ""
)

// Build describes the running binary.
type Build struct {
	Version string
	// Commit is a short revision, or "unknown".
	Commit string
	// Modified reports uncommitted changes in the build's checkout.
	Modified bool
	// Time is the commit time as stamped by the go command, if known.
	Time string
	Go   string
}

// Current returns the running binary's Build.
func Current() Build {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) Build {
	build := Build{Version: Version, Commit: Commit, Go: runtime.Version()}
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if build.Commit == "" {
					build.Commit = setting.Value[:min(len(setting.Value), 12)]
				}
			case "vcs.time":
				build.Time = setting.Value
			case "vcs.modified":
				build.Modified = setting.Value == "true"
			}
		}
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	return build
}

// String formats b as "0.1.0-dev (3f2a9c1b7d04-dirty, 2026-03-01T10:00:00Z)".
func (b Build) String() string {
	commit := b.Commit
	if b.Modified {
		commit += "-dirty"
	}
	if b.Time == "" {
		return fmt.Sprintf("%s (%s)", b.Version, commit)
	}
	return fmt.Sprintf("%s (%s, %s)", b.Version, commit, b.Time)
}

// Info is Current().String(), logged at startup.
func Info() string { return Current().String() }

// Print writes the --version output for binary to stdout.
func Print(binary string) {
	build := Current()
	fmt.Printf("%s %s\n  built with %s for %s/%s\n", binary, build, build.Go, runtime.GOOS, runtime.GOARCH)
}
