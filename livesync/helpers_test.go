// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
	"github.com/deskline/deskline/lib/testutil"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

const waitTimeout = 5 * time.Second

var (
	epoch     = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alice     = ref.MustParseUserID("alice")
	bob       = ref.MustParseUserID("bob")
	roomA     = ref.MustParseRoomID("ticket/T-100")
	roomB     = ref.MustParseRoomID("forum/general")
	discarded = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func testCredential(t *testing.T, user ref.UserID) *messaging.Credential {
	t.Helper()
	token, err := secret.FromString("tok-" + user.String())
	if err != nil {
		t.Fatalf("creating token: %v", err)
	}
	t.Cleanup(func() { token.Close() })
	return &messaging.Credential{UserID: user, DisplayName: user.String(), Role: messaging.RoleAgent, Token: token}
}

func message(id string, sender ref.UserID, content string, createdAt time.Time) messaging.Message {
	return messaging.Message{ID: id, RoomID: roomA, SenderID: sender, Content: content, CreatedAt: createdAt}
}

// stateRecorder collects state changes on a channel.
func stateRecorder(manager *Manager) <-chan StateChange {
	changes := make(chan StateChange, 64)
	manager.Subscribe(func(change StateChange) { changes <- change })
	return changes
}

func requireState(t *testing.T, changes <-chan StateChange, want State) StateChange {
	t.Helper()
	change := testutil.RequireReceive(t, changes, waitTimeout, "waiting for %s", want)
	if change.To != want {
		t.Fatalf("state change to %s, want %s (from %s, err %v)", change.To, want, change.From, change.Err)
	}
	return change
}

func requireFrame(t *testing.T, server *transport.ServerEnd, want transport.FrameType) transport.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	frame, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("waiting for %s frame: %v", want, err)
	}
	if frame.Type != want {
		t.Fatalf("got %s frame, want %s", frame.Type, want)
	}
	return frame
}

// requireNoFrame checks that nothing is queued on server right now.
func requireNoFrame(t *testing.T, server *transport.ServerEnd) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if frame, err := server.Receive(ctx); err == nil {
		t.Fatalf("unexpected %s frame (room %s)", frame.Type, frame.Room)
	}
}

func acceptServer(t *testing.T, dialer *transport.MemoryDialer) *transport.ServerEnd {
	t.Helper()
	return testutil.RequireReceive(t, dialer.Accepted(), waitTimeout, "waiting for dial")
}

func newFakeClock() *clock.FakeClock {
	return clock.Fake(epoch)
}
