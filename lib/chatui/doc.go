// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the bubbletea conversation view for one helpdesk
// session. It renders the selected room's stream from a [Session]
// (normally a *livesync.Engine), shows the connection state in the
// header, and sends what the user types.
//
// Placeholders for sends in flight are drawn faint; failed sends are
// drawn red with their reason and can be retried or discarded. Lines
// starting with a slash are commands:
//
//	/join ticket/<id>   select a ticket's conversation
//	/join forum/<id>    select a forum room
//	/leave              clear the selection
//	/quit               exit
//
// Session events arrive on a buffered channel that the model drains
// through its own tea.Cmd loop; each event triggers a re-read of the
// session rather than carrying state itself.
package chatui
