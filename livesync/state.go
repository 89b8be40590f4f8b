// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import "fmt"

// State is the lifecycle state of the session's connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// active reports whether the Manager is connected or working toward
// a connection on its own.
func (s State) active() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}

// StateChange is one transition. Err is the cause for transitions
// into Reconnecting or Failed.
type StateChange struct {
	From State
	To   State
	Err  error
}
