// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/transport"
)

// TrackerListener observes membership changes. Calls are made with no
// Tracker lock held.
type TrackerListener interface {
	// RoomJoinRequested is called after a join frame for room is
	// written; its snapshot will follow out of band.
	RoomJoinRequested(room ref.RoomID)

	// RoomLeft is called when room stops being the selection.
	RoomLeft(room ref.RoomID)
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Connection Connection

	// JoinTimeout bounds how long a join may stay unanswered before
	// the next join is allowed. Zero means 10s.
	JoinTimeout time.Duration

	// Listener may be nil.
	Listener TrackerListener

	// Clock drives the join timeout. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Tracker maps the selected room onto join and leave frames. It keeps
// at most one join in flight and re-issues the selected room's join
// exactly once every time the connection becomes Connected. It is
// safe for concurrent use.
type Tracker struct {
	config TrackerConfig

	mu        sync.Mutex
	connected bool
	selected  ref.RoomID
	joined    ref.RoomID
	inFlight  ref.RoomID
	joinSeq   uint64
	joinTimer *clock.Timer
	// requested is the room whose join frame was written on the
	// connection numbered epoch.
	requested ref.RoomID
	epoch     uint64
}

// NewTracker creates a tracker with no selection.
func NewTracker(config TrackerConfig) (*Tracker, error) {
	if config.Connection == nil {
		return nil, fmt.Errorf("livesync: Connection is required")
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Tracker{config: config}, nil
}

// Selected returns the selected room, zero if none.
func (t *Tracker) Selected() ref.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selected
}

// Joined returns the room whose snapshot has arrived on the current
// connection, zero if none.
func (t *Tracker) Joined() ref.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined
}

// Ready reports whether room is the selection and its join has been
// written on the current connection, so a send frame for room would
// reach the server after the join.
func (t *Tracker) Ready(room ref.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || room.IsZero() || room != t.selected {
		return false
	}
	return t.joined == room || t.requested == room
}

// membershipOps collects the frames and callbacks a locked section
// decided on, to run after the lock is released.
type membershipOps struct {
	leave ref.RoomID
	join  ref.RoomID
	left  ref.RoomID
	epoch uint64
}

// SelectRoom makes room the selection. While not Connected the
// selection is only recorded and its join is issued on the next
// Connected. When Connected, the previous room is left without
// waiting for an acknowledgement and room is joined, unless another
// join is still in flight, in which case room's join follows that
// join's snapshot or timeout.
//
// An error means the join could not be written; the selection stands
// and the join is re-issued after reconnecting.
func (t *Tracker) SelectRoom(room ref.RoomID) error {
	if room.IsZero() {
		t.DeselectRoom()
		return nil
	}

	t.mu.Lock()
	if room == t.selected {
		t.mu.Unlock()
		return nil
	}
	ops := membershipOps{epoch: t.epoch}
	ops.left = t.selected
	t.selected = room
	t.requested = ref.RoomID{}
	if t.connected {
		if !t.joined.IsZero() {
			ops.leave = t.joined
			t.joined = ref.RoomID{}
		}
		if t.inFlight.IsZero() {
			ops.join = t.startJoinLocked(room)
		}
	}
	t.mu.Unlock()

	return t.run(ops)
}

// DeselectRoom clears the selection and leaves the joined room.
func (t *Tracker) DeselectRoom() {
	t.mu.Lock()
	var ops membershipOps
	ops.left = t.selected
	t.selected = ref.RoomID{}
	t.requested = ref.RoomID{}
	if t.connected && !t.joined.IsZero() {
		ops.leave = t.joined
	}
	t.joined = ref.RoomID{}
	t.mu.Unlock()

	t.run(ops)
}

// SnapshotReceived records that room's join was answered and reports
// whether room is the selection, i.e. whether the snapshot should be
// applied. A snapshot for a room selected away from while its join was
// in flight triggers that room's leave and the pending join.
func (t *Tracker) SnapshotReceived(room ref.RoomID) bool {
	t.mu.Lock()
	ops := membershipOps{epoch: t.epoch}
	if room == t.inFlight {
		t.clearInFlightLocked()
		if room != t.selected {
			ops.leave = room
			if !t.selected.IsZero() && t.connected {
				ops.join = t.startJoinLocked(t.selected)
			}
		}
	}
	current := t.connected && room == t.selected
	if current {
		t.joined = room
	}
	t.mu.Unlock()

	t.run(ops)
	return current
}

// HandleState follows the connection: entering Connected issues the
// selected room's join, leaving it forgets all membership.
func (t *Tracker) HandleState(change StateChange) {
	t.mu.Lock()
	// Membership never survives a transition: either the connection
	// just went away or it is brand new.
	t.epoch++
	ops := membershipOps{epoch: t.epoch}
	t.joined = ref.RoomID{}
	t.requested = ref.RoomID{}
	t.clearInFlightLocked()
	nowConnected := change.To == Connected
	if nowConnected && !t.connected && !t.selected.IsZero() {
		ops.join = t.startJoinLocked(t.selected)
	}
	t.connected = nowConnected
	t.mu.Unlock()

	t.run(ops)
}

func (t *Tracker) startJoinLocked(room ref.RoomID) ref.RoomID {
	t.inFlight = room
	t.joinSeq++
	seq := t.joinSeq
	t.joinTimer.Stop()
	t.joinTimer = t.config.Clock.AfterFunc(t.config.JoinTimeout, func() { t.joinTimedOut(seq) })
	return room
}

func (t *Tracker) clearInFlightLocked() {
	t.inFlight = ref.RoomID{}
	t.joinSeq++
	t.joinTimer.Stop()
	t.joinTimer = nil
}

// joinTimedOut releases the in-flight slot. A selection that moved on
// gets its join now; the room that timed out is left in case the join
// did reach the server. A timed-out join for the current selection is
// not retried until the next reconnect or reselection.
func (t *Tracker) joinTimedOut(seq uint64) {
	t.mu.Lock()
	if seq != t.joinSeq || t.inFlight.IsZero() {
		t.mu.Unlock()
		return
	}
	ops := membershipOps{epoch: t.epoch}
	timedOut := t.inFlight
	t.clearInFlightLocked()
	t.config.Logger.Warn("room join timed out",
		"room_id", timedOut.String(),
		"timeout", t.config.JoinTimeout,
	)
	if timedOut != t.selected && t.connected {
		ops.leave = timedOut
		if !t.selected.IsZero() {
			ops.join = t.startJoinLocked(t.selected)
		}
	}
	t.mu.Unlock()

	t.run(ops)
}

func (t *Tracker) run(ops membershipOps) error {
	ctx := context.Background()
	if !ops.leave.IsZero() {
		if err := t.config.Connection.Send(ctx, transport.Frame{Type: transport.TypeLeave, Room: ops.leave}); err != nil {
			t.config.Logger.Debug("leave not delivered",
				"room_id", ops.leave.String(),
				"error", err,
			)
		}
	}
	if !ops.left.IsZero() && t.config.Listener != nil {
		t.config.Listener.RoomLeft(ops.left)
	}
	if ops.join.IsZero() {
		return nil
	}

	if err := t.config.Connection.Send(ctx, transport.Frame{Type: transport.TypeJoin, Room: ops.join}); err != nil {
		return fmt.Errorf("livesync: joining %s: %w", ops.join, err)
	}
	t.config.Logger.Debug("room join requested", "room_id", ops.join.String())
	t.mu.Lock()
	if t.epoch == ops.epoch && t.selected == ops.join {
		t.requested = ops.join
	}
	t.mu.Unlock()
	if t.config.Listener != nil {
		t.config.Listener.RoomJoinRequested(ops.join)
	}
	return nil
}
