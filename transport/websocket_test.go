// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
)

// echoRelay accepts one protocol connection per request, completes the
// handshake, and answers every join with a one-message snapshot.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	authenticate := tokenAuthenticator(map[string]string{"tok-alice": "alice"})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := Accept(writer, request, AcceptConfig{Compression: true})
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer conn.Close()

		ctx := request.Context()
		if _, err := AcceptHandshake(ctx, conn, authenticate); err != nil {
			return
		}
		for {
			frame, err := conn.Receive(ctx)
			if err != nil {
				return
			}
			if frame.Type == TypeJoin {
				conn.Send(ctx, Frame{Type: TypeSnapshot, Room: frame.Room, Messages: []messaging.Message{*testMessage("m1", "welcome aboard")}})
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func websocketURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketDialer(t *testing.T) {
	server := echoRelay(t)

	for _, encoding := range []Encoding{JSON, CBOR} {
		t.Run(encoding.String(), func(t *testing.T) {
			dialer, err := NewWebSocketDialer(WebSocketConfig{
				URL:          websocketURL(server),
				Encoding:     encoding,
				Compression:  true,
				PingInterval: 500 * time.Millisecond,
			})
			if err != nil {
				t.Fatalf("NewWebSocketDialer: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, user, err := dialer.Dial(ctx, testToken(t, "tok-alice"))
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer conn.Close()
			if user != ref.MustParseUserID("alice") {
				t.Errorf("welcomed as %s, want alice", user)
			}

			if got := conn.(*WebSocketConn).Encoding(); got != encoding {
				t.Errorf("negotiated %s, want %s", got, encoding)
			}

			if err := conn.Send(ctx, Frame{Type: TypeJoin, Room: testRoom}); err != nil {
				t.Fatalf("Send join: %v", err)
			}
			snapshot, err := conn.Receive(ctx)
			if err != nil {
				t.Fatalf("Receive: %v", err)
			}
			if snapshot.Type != TypeSnapshot || snapshot.Room != testRoom || len(snapshot.Messages) != 1 {
				t.Fatalf("snapshot = %+v", snapshot)
			}
			if snapshot.Messages[0].Content != "welcome aboard" {
				t.Errorf("content = %q", snapshot.Messages[0].Content)
			}

			if err := conn.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
			if _, err := conn.Receive(ctx); !errors.Is(err, ErrClosed) {
				t.Errorf("Receive after Close = %v, want ErrClosed", err)
			}
		})
	}
}

func TestWebSocketDialerRejectedToken(t *testing.T) {
	server := echoRelay(t)
	dialer, err := NewWebSocketDialer(WebSocketConfig{URL: websocketURL(server)})
	if err != nil {
		t.Fatalf("NewWebSocketDialer: %v", err)
	}

	_, _, err = dialer.Dial(context.Background(), testToken(t, "forged"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Dial = %v, want ErrUnauthorized", err)
	}
}

func TestWebSocketDialerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := websocketURL(server)
	server.Close()

	dialer, err := NewWebSocketDialer(WebSocketConfig{URL: url, HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewWebSocketDialer: %v", err)
	}
	if _, _, err := dialer.Dial(context.Background(), testToken(t, "tok-alice")); err == nil {
		t.Fatal("Dial to a closed server succeeded")
	}
}

func TestNewWebSocketDialerRequiresURL(t *testing.T) {
	if _, err := NewWebSocketDialer(WebSocketConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
