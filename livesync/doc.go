// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package livesync keeps a helpdesk conversation view in step with the
// relay: one live connection per session, membership of the selected
// ticket or forum room, a reconciled message stream, and optimistic
// sends.
//
// The pieces, leaves first:
//
//   - [Manager] owns the connection. It dials when a usable
//     credential arrives, retries failed dials with linear backoff up
//     to a fixed budget (then sits in [Failed] until [Manager.Retry] or
//     a fresh Connect), redials after a drop, and tears down on
//     Disconnect. State changes are delivered to subscribers in order.
//   - [Tracker] maps the selected room onto join and leave frames,
//     queueing a selection made before the connection is up and
//     re-joining once after every reconnect.
//   - [Stream] merges REST history, join snapshots and pushed messages
//     into one sequence sorted by creation time, unique by message id.
//     Events for any room but the current one are ignored.
//   - [Outbox] turns a send into a placeholder entry and resolves it
//     exactly once: bound to the server's message on ack or echo, or
//     marked failed on rejection or timeout.
//
// [Engine] wires them together over a [transport.Dialer] and is the
// surface a user interface consumes.
//
// Nothing here blocks on the network in a caller's goroutine except
// the frame writes behind Send. Every timer comes from a
// [clock.Clock], so tests drive backoff, join and send timeouts with
// [clock.Fake].
package livesync
