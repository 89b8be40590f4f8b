// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"time"

	"github.com/deskline/deskline/lib/ref"
)

// Message is one conversation entry. ID is assigned by the server and
// stable once set. LocalID is the client correlation id of a message
// this client sent; the server echoes it back on the sender's copy
// when it knows it and omits it otherwise.
type Message struct {
	ID                string     `json:"id"`
	LocalID           string     `json:"local_id,omitempty"`
	RoomID            ref.RoomID `json:"room"`
	SenderID          ref.UserID `json:"sender_id"`
	SenderDisplayName string     `json:"sender_display_name,omitempty"`
	Content           string     `json:"content"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Before reports whether m sorts before other in a stream: by
// CreatedAt ascending, ties broken by ID so the order is total. A
// message without an ID yet ties by its LocalID instead.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.orderKey() < other.orderKey()
}

func (m Message) orderKey() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// HistoryOptions selects a page of history.
type HistoryOptions struct {
	// Before returns only messages older than this message id.
	Before string
	// Limit caps the page size. Zero uses the server default.
	Limit int
}

// HistoryResponse is one page of history. Messages may arrive in any
// order; consumers sort.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
	// NextBefore is the cursor for the next older page, empty at the
	// start of the conversation.
	NextBefore string `json:"next_before,omitempty"`
}
