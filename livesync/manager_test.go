// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/testutil"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

func managerWith(t *testing.T, dialer *transport.MemoryDialer, config ManagerConfig) *Manager {
	t.Helper()
	config.Dialer = dialer
	if config.Logger == nil {
		config.Logger = discarded
	}
	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(manager.Disconnect)
	return manager
}

func TestManagerRejectsCredentialWithoutToken(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	fake := newFakeClock()
	manager := managerWith(t, dialer, ManagerConfig{Clock: fake})

	credentials := map[string]*messaging.Credential{
		"nil":          nil,
		"no token":     {UserID: alice},
		"closed token": testCredential(t, alice),
	}
	credentials["closed token"].Token.Close()

	for name, credential := range credentials {
		t.Run(name, func(t *testing.T) {
			err := manager.Connect(credential)
			if !errors.Is(err, ErrNotConnected) {
				t.Fatalf("Connect = %v, want ErrNotConnected", err)
			}
			if manager.State() != Disconnected {
				t.Errorf("state = %s, want disconnected", manager.State())
			}
		})
	}

	if dialer.Dials() != 0 {
		t.Errorf("Dials = %d, want 0", dialer.Dials())
	}
	if fake.PendingTimers() != 0 {
		t.Errorf("PendingTimers = %d, want 0: a retry loop was started", fake.PendingTimers())
	}
}

func TestManagerConnects(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	manager := managerWith(t, dialer, ManagerConfig{Clock: newFakeClock()})
	changes := stateRecorder(manager)

	credential := testCredential(t, alice)
	if err := manager.Connect(credential); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	requireState(t, changes, Connecting)
	server := acceptServer(t, dialer)
	requireState(t, changes, Connected)

	if server.Token != "tok-alice" {
		t.Errorf("dialed with token %q", server.Token)
	}
	if manager.Credential() != credential {
		t.Error("Credential does not return the connected credential")
	}
	if err := manager.AwaitConnected(context.Background()); err != nil {
		t.Errorf("AwaitConnected: %v", err)
	}

	// Same identity again is a refresh, not a reconnect.
	refreshed := testCredential(t, alice)
	if err := manager.Connect(refreshed); err != nil {
		t.Fatalf("Connect refresh: %v", err)
	}
	if manager.State() != Connected || dialer.Dials() != 1 {
		t.Errorf("refresh changed state to %s with %d dials", manager.State(), dialer.Dials())
	}
	if manager.Credential() != refreshed {
		t.Error("refresh did not replace the stored credential")
	}
}

func TestManagerRetryBudget(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	fake := newFakeClock()
	manager := managerWith(t, dialer, ManagerConfig{
		Clock:          fake,
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
	})
	changes := stateRecorder(manager)

	refused := errors.New("connection refused")
	dialer.FailNext(refused, refused, refused, refused, refused)

	if err := manager.Connect(testCredential(t, alice)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	requireState(t, changes, Connecting)
	reconnecting := requireState(t, changes, Reconnecting)
	if !errors.Is(reconnecting.Err, refused) {
		t.Errorf("Reconnecting cause = %v, want the dial error", reconnecting.Err)
	}

	// Delays after failures 1..4 are 1s, 2s, 3s, 3s (capped).
	for failure, delay := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		fake.WaitForTimers(1)
		fake.Advance(delay - time.Millisecond)
		if dialer.Dials() != failure+1 {
			t.Fatalf("redialed before backoff %d elapsed: %d dials", failure+1, dialer.Dials())
		}
		fake.Advance(time.Millisecond)
		if failure < 3 {
			waitForDials(t, dialer, failure+2)
		}
	}

	failed := requireState(t, changes, Failed)
	if !errors.Is(failed.Err, ErrConnectionFailed) {
		t.Errorf("Failed cause = %v, want ErrConnectionFailed", failed.Err)
	}
	if dialer.Dials() != 5 {
		t.Errorf("Dials = %d, want 5", dialer.Dials())
	}
	if fake.PendingTimers() != 0 {
		t.Errorf("retry timer still armed after Failed")
	}
	if err := manager.AwaitConnected(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("AwaitConnected = %v, want ErrConnectionFailed", err)
	}

	// Failed is terminal until asked: a manual retry restarts the budget.
	if err := manager.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	requireState(t, changes, Connecting)
	acceptServer(t, dialer)
	requireState(t, changes, Connected)
}

func waitForDials(t *testing.T, dialer *transport.MemoryDialer, want int) {
	t.Helper()
	testutil.Eventually(t, waitTimeout, func() bool { return dialer.Dials() >= want },
		"waiting for %d dials", want)
}

func TestManagerFreshConnectAfterFailed(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	fake := newFakeClock()
	manager := managerWith(t, dialer, ManagerConfig{Clock: fake, MaxAttempts: 1})
	changes := stateRecorder(manager)

	dialer.FailNext(errors.New("unreachable"))
	manager.Connect(testCredential(t, alice))
	requireState(t, changes, Connecting)
	requireState(t, changes, Failed)

	// A credential refresh for the same user resumes directly.
	if err := manager.Connect(testCredential(t, alice)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	requireState(t, changes, Connecting)
	acceptServer(t, dialer)
	requireState(t, changes, Connected)
}

func TestManagerWelcomedIdentity(t *testing.T) {
	tests := []struct {
		name     string
		welcome  ref.UserID
		wantFail bool
	}{
		{"matches", alice, false},
		{"not reported", ref.UserID{}, false},
		{"different user", bob, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dialer := transport.NewMemoryDialer()
			dialer.WelcomeAs(test.welcome)
			manager := managerWith(t, dialer, ManagerConfig{Clock: newFakeClock(), MaxAttempts: 5})
			changes := stateRecorder(manager)

			manager.Connect(testCredential(t, alice))
			requireState(t, changes, Connecting)
			server := acceptServer(t, dialer)
			if !test.wantFail {
				requireState(t, changes, Connected)
				return
			}

			// A mismatch is final on the first attempt.
			failed := requireState(t, changes, Failed)
			if !errors.Is(failed.Err, ErrIdentityMismatch) || !errors.Is(failed.Err, ErrConnectionFailed) {
				t.Errorf("Failed cause = %v", failed.Err)
			}
			if dialer.Dials() != 1 {
				t.Errorf("Dials = %d, want 1", dialer.Dials())
			}
			select {
			case <-server.Done():
			case <-time.After(waitTimeout):
				t.Error("mismatched connection left open")
			}
			if err := manager.AwaitConnected(context.Background()); !errors.Is(err, ErrIdentityMismatch) {
				t.Errorf("AwaitConnected = %v, want ErrIdentityMismatch", err)
			}
		})
	}
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	manager := managerWith(t, dialer, ManagerConfig{Clock: newFakeClock()})
	changes := stateRecorder(manager)

	manager.Connect(testCredential(t, alice))
	requireState(t, changes, Connecting)
	first := acceptServer(t, dialer)
	requireState(t, changes, Connected)

	first.Close()
	dropped := requireState(t, changes, Reconnecting)
	if !errors.Is(dropped.Err, transport.ErrClosed) {
		t.Errorf("drop cause = %v, want ErrClosed", dropped.Err)
	}
	second := acceptServer(t, dialer)
	requireState(t, changes, Connected)

	if err := manager.Send(context.Background(), transport.Frame{Type: transport.TypePing}); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	requireFrame(t, second, transport.TypePing)
}

func TestManagerDisconnectDuringBackoff(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	fake := newFakeClock()
	manager := managerWith(t, dialer, ManagerConfig{Clock: fake})
	changes := stateRecorder(manager)

	dialer.FailNext(errors.New("refused"))
	manager.Connect(testCredential(t, alice))
	requireState(t, changes, Connecting)
	requireState(t, changes, Reconnecting)
	fake.WaitForTimers(1)

	manager.Disconnect()
	requireState(t, changes, Disconnected)
	if fake.PendingTimers() != 0 {
		t.Fatalf("retry timer survived Disconnect")
	}
	fake.Advance(time.Minute)
	if dialer.Dials() != 1 {
		t.Errorf("Dials = %d after Disconnect, want 1", dialer.Dials())
	}
	if manager.Credential() != nil {
		t.Error("credential kept after Disconnect")
	}
}

func TestManagerIdentityChangeReplacesSession(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	manager := managerWith(t, dialer, ManagerConfig{Clock: newFakeClock()})
	changes := stateRecorder(manager)

	manager.Connect(testCredential(t, alice))
	requireState(t, changes, Connecting)
	aliceServer := acceptServer(t, dialer)
	requireState(t, changes, Connected)

	manager.Connect(testCredential(t, bob))
	requireState(t, changes, Disconnected)
	requireState(t, changes, Connecting)
	bobServer := acceptServer(t, dialer)
	requireState(t, changes, Connected)

	select {
	case <-aliceServer.Done():
	default:
		t.Error("previous identity's connection left open")
	}
	if bobServer.Token != "tok-bob" {
		t.Errorf("new session dialed with %q", bobServer.Token)
	}
}

func TestManagerSendRequiresConnected(t *testing.T) {
	manager := managerWith(t, transport.NewMemoryDialer(), ManagerConfig{Clock: newFakeClock()})
	err := manager.Send(context.Background(), transport.Frame{Type: transport.TypeJoin, Room: ref.MustParseRoomID("ticket/T-1")})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send = %v, want ErrNotConnected", err)
	}
}

func TestManagerWriteFailureIsDrop(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	manager := managerWith(t, dialer, ManagerConfig{Clock: newFakeClock()})
	changes := stateRecorder(manager)

	manager.Connect(testCredential(t, alice))
	requireState(t, changes, Connecting)
	acceptServer(t, dialer)
	requireState(t, changes, Connected)

	// Break the client end the Manager writes to.
	broken := errors.New("broken pipe")
	manager.mu.Lock()
	manager.conn.(*transport.PipeConn).FailSends(broken)
	manager.mu.Unlock()

	if err := manager.Send(context.Background(), transport.Frame{Type: transport.TypePing}); !errors.Is(err, broken) {
		t.Fatalf("Send = %v, want the write error", err)
	}
	requireState(t, changes, Reconnecting)
	acceptServer(t, dialer)
	requireState(t, changes, Connected)
}

func TestManagerDispatchesFramesInOrder(t *testing.T) {
	dialer := transport.NewMemoryDialer()
	frames := make(chan transport.Frame, 8)
	manager := managerWith(t, dialer, ManagerConfig{
		Clock:   newFakeClock(),
		OnFrame: func(frame transport.Frame) { frames <- frame },
	})
	changes := stateRecorder(manager)

	manager.Connect(testCredential(t, alice))
	requireState(t, changes, Connecting)
	server := acceptServer(t, dialer)
	requireState(t, changes, Connected)

	ctx := context.Background()
	server.Send(ctx, transport.ErrorFrame(transport.CodeRateLimited, "slow down"))
	server.Send(ctx, transport.Frame{Type: transport.TypePong})

	first := <-frames
	second := <-frames
	if first.Type != transport.TypeError || second.Type != transport.TypePong {
		t.Errorf("frames out of order: %s, %s", first.Type, second.Type)
	}
	// An error frame does not close the connection.
	if manager.State() != Connected {
		t.Errorf("state = %s after error frame, want connected", manager.State())
	}
}

func TestManagerConfigValidation(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("NewManager accepted a nil Dialer")
	}
	_, err := NewManager(ManagerConfig{
		Dialer:         transport.NewMemoryDialer(),
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     time.Second,
	})
	if err == nil {
		t.Error("NewManager accepted MaxBackoff below InitialBackoff")
	}
}
