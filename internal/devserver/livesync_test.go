// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package devserver

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/deskline/deskline/lib/testutil"
	"github.com/deskline/deskline/livesync"
	"github.com/deskline/deskline/transport"
)

// Engine against the relay over real sockets.

func streamHas(engine *livesync.Engine, match func(livesync.Entry) bool) bool {
	return slices.ContainsFunc(engine.Stream(), match)
}

func TestEngineAgainstRelay(t *testing.T) {
	for _, encoding := range []transport.Encoding{transport.JSON, transport.CBOR} {
		t.Run(encoding.String(), func(t *testing.T) {
			relay, server := newTestServer(t, nil)
			seeded, err := relay.Post(ticket, bob, "printer on floor 3 is down")
			if err != nil {
				t.Fatalf("Post: %v", err)
			}

			dialer, err := transport.NewWebSocketDialer(transport.WebSocketConfig{
				URL:      websocketURL(server),
				Encoding: encoding,
				Logger:   discarded,
			})
			if err != nil {
				t.Fatalf("NewWebSocketDialer: %v", err)
			}
			engine, err := livesync.New(livesync.Config{
				Dialer:  dialer,
				History: historyClient(t, server.URL),
				Logger:  discarded,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			t.Cleanup(engine.Close)

			var (
				mu     sync.Mutex
				states []livesync.State
			)
			engine.Subscribe(func(event livesync.Event) {
				if event.Kind == livesync.EventState {
					mu.Lock()
					states = append(states, event.State)
					mu.Unlock()
				}
			})

			if err := engine.Connect(credentialFor(t, alice, "tok-alice")); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()
			if err := engine.AwaitConnected(ctx); err != nil {
				t.Fatalf("AwaitConnected: %v", err)
			}
			if err := engine.SelectRoom(ctx, ticket); err != nil {
				t.Fatalf("SelectRoom: %v", err)
			}
			testutil.Eventually(t, waitTimeout, func() bool {
				return streamHas(engine, func(entry livesync.Entry) bool { return entry.ID == seeded.ID })
			}, "seeded message never reached the stream")

			localID, err := engine.Send(ctx, "on my way")
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			testutil.Eventually(t, waitTimeout, func() bool {
				return streamHas(engine, func(entry livesync.Entry) bool {
					return entry.LocalID == localID && entry.ID != "" && entry.Status == livesync.EntryConfirmed
				})
			}, "placeholder %s never bound to its server message", localID)
			if len(engine.Stream()) != 2 {
				t.Errorf("stream = %+v, want seeded message plus the send", engine.Stream())
			}

			reply, _ := relay.Post(ticket, bob, "thanks")
			testutil.Eventually(t, waitTimeout, func() bool {
				return streamHas(engine, func(entry livesync.Entry) bool { return entry.ID == reply.ID })
			}, "pushed message never arrived")

			// Drop the socket; the engine reconnects, rejoins, and keeps
			// receiving.
			if relay.Disconnect(alice.ID) == 0 {
				t.Fatal("no session to disconnect")
			}
			testutil.Eventually(t, waitTimeout, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return slices.Contains(states, livesync.Reconnecting) && engine.State() == livesync.Connected
			}, "engine never reconnected")
			// Posted while the rejoin may still be in flight; the push or
			// the rejoin snapshot delivers it.
			after, _ := relay.Post(ticket, bob, "still there?")
			testutil.Eventually(t, waitTimeout, func() bool {
				return streamHas(engine, func(entry livesync.Entry) bool { return entry.ID == after.ID })
			}, "message after the reconnect never arrived")

			if slices.ContainsFunc(engine.Stream(), func(entry livesync.Entry) bool { return entry.Placeholder() }) {
				t.Errorf("placeholders left in stream: %+v", engine.Stream())
			}
		})
	}
}
