// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The buffer
// is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.FromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func testCredential(t *testing.T, user, token string) *Credential {
	t.Helper()
	return &Credential{
		UserID:      ref.MustParseUserID(user),
		DisplayName: user,
		Role:        RoleUser,
		Token:       testBuffer(t, token),
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{BaseURL: "http://localhost:8420/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client.baseURL != "http://localhost:8420" {
			t.Errorf("baseURL = %q, want trailing slash stripped", client.baseURL)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("websocket scheme", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{BaseURL: "ws://localhost:8420"}); err == nil {
			t.Fatal("expected error for non-http scheme")
		}
	})
}

func TestHistoryPath(t *testing.T) {
	tests := []struct {
		room string
		want string
	}{
		{"ticket/T-100", "/api/tickets/T-100/messages"},
		{"forum/general", "/api/forum/rooms/general/messages"},
	}
	for _, test := range tests {
		t.Run(test.room, func(t *testing.T) {
			got, err := HistoryPath(ref.MustParseRoomID(test.room))
			if err != nil {
				t.Fatalf("HistoryPath: %v", err)
			}
			if got != test.want {
				t.Errorf("HistoryPath = %q, want %q", got, test.want)
			}
		})
	}

	if _, err := HistoryPath(ref.RoomID{}); err == nil {
		t.Error("expected error for zero room")
	}
}

func TestHistory(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/api/tickets/T-7/messages" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			if got := request.Header.Get("Authorization"); got != "Bearer tok-alice" {
				t.Errorf("Authorization = %q", got)
			}
			if got := request.URL.Query().Get("before"); got != "m9" {
				t.Errorf("before = %q, want m9", got)
			}
			if got := request.URL.Query().Get("limit"); got != "20" {
				t.Errorf("limit = %q, want 20", got)
			}
			if request.URL.Query().Has("token") {
				t.Error("token must not appear in the URL")
			}
			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(map[string]any{
				"messages": []map[string]any{
					{"id": "m1", "sender_id": "bob", "content": "hi", "created_at": created},
					{"id": "m2", "sender_id": "alice", "content": "hello", "created_at": created.Add(time.Second), "room": "ticket/T-7"},
				},
				"next_before": "m1",
			})
		}))
		defer server.Close()

		client := newTestClient(t, server)
		room := ref.MustParseRoomID("ticket/T-7")
		page, err := client.HistoryPage(context.Background(), testCredential(t, "alice", "tok-alice"), room, HistoryOptions{Before: "m9", Limit: 20})
		if err != nil {
			t.Fatalf("HistoryPage: %v", err)
		}
		if len(page.Messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(page.Messages))
		}
		for _, message := range page.Messages {
			if message.RoomID != room {
				t.Errorf("message %s room = %s, want %s", message.ID, message.RoomID, room)
			}
		}
		if page.Messages[0].SenderID != ref.MustParseUserID("bob") || !page.Messages[0].CreatedAt.Equal(created) {
			t.Errorf("first message = %+v", page.Messages[0])
		}
		if page.NextBefore != "m1" {
			t.Errorf("NextBefore = %q, want m1", page.NextBefore)
		}
	})

	t.Run("gzip body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			var compressed bytes.Buffer
			gzipWriter := gzip.NewWriter(&compressed)
			gzipWriter.Write([]byte(`{"messages":[{"id":"m1","sender_id":"bob","content":"zipped","created_at":"2026-03-01T09:00:00Z"}]}`))
			gzipWriter.Close()
			writer.Header().Set("Content-Encoding", "gzip")
			writer.Write(compressed.Bytes())
		}))
		defer server.Close()

		// DisableCompression keeps net/http from transparently decoding,
		// so the client's own gzip path runs.
		httpClient := server.Client()
		httpClient.Transport.(*http.Transport).DisableCompression = true
		client, err := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: httpClient})
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		messages, err := client.History(context.Background(), testCredential(t, "alice", "tok"), ref.MustParseRoomID("forum/general"), HistoryOptions{})
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(messages) != 1 || messages[0].Content != "zipped" {
			t.Errorf("messages = %+v", messages)
		}
	})

	t.Run("message without id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Write([]byte(`{"messages":[{"content":"anonymous"}]}`))
		}))
		defer server.Close()

		_, err := newTestClient(t, server).History(context.Background(), testCredential(t, "alice", "tok"), ref.MustParseRoomID("forum/general"), HistoryOptions{})
		if err == nil {
			t.Fatal("expected error for message without id")
		}
	})

	t.Run("structured error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusForbidden)
			writer.Write([]byte(`{"code":"FORBIDDEN","message":"not a participant"}`))
		}))
		defer server.Close()

		_, err := newTestClient(t, server).History(context.Background(), testCredential(t, "alice", "tok"), ref.MustParseRoomID("ticket/T-1"), HistoryOptions{})
		if !IsAPIError(err, ErrCodeForbidden) {
			t.Fatalf("err = %v, want FORBIDDEN APIError", err)
		}
		var apiErr *APIError
		errors.As(err, &apiErr)
		if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "not a participant" {
			t.Errorf("apiErr = %+v", apiErr)
		}
	})

	t.Run("unstructured error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			http.Error(writer, "gone fishing", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := newTestClient(t, server).History(context.Background(), testCredential(t, "alice", "tok"), ref.MustParseRoomID("ticket/T-1"), HistoryOptions{})
		if !IsAPIError(err, ErrCodeNotFound) {
			t.Fatalf("err = %v, want NOT_FOUND APIError", err)
		}
	})

	t.Run("unusable credential", func(t *testing.T) {
		requested := false
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requested = true
		}))
		defer server.Close()

		credential := &Credential{UserID: ref.MustParseUserID("alice")}
		_, err := newTestClient(t, server).History(context.Background(), credential, ref.MustParseRoomID("ticket/T-1"), HistoryOptions{})
		if !errors.Is(err, ErrNoCredential) {
			t.Fatalf("err = %v, want ErrNoCredential", err)
		}
		if requested {
			t.Error("request was sent without a token")
		}
	})
}
