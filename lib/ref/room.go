// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomKind distinguishes ticket threads from forum rooms.
type RoomKind string

const (
	// KindTicket is the communication log attached to one ticket.
	KindTicket RoomKind = "ticket"
	// KindForum is a shared agent forum room.
	KindForum RoomKind = "forum"
)

// RoomID identifies a conversation scope (e.g., "ticket/4821").
//
// RoomID is an immutable, comparable value type and can be used as a
// map key. The zero value means "no room"; use IsZero to check.
type RoomID struct {
	kind RoomKind
	id   string
}

// TicketRoom returns the RoomID of a ticket's communication log.
func TicketRoom(ticketID string) (RoomID, error) {
	if err := validateID("ticket id", ticketID); err != nil {
		return RoomID{}, err
	}
	return RoomID{kind: KindTicket, id: ticketID}, nil
}

// ForumRoom returns the RoomID of a forum room.
func ForumRoom(roomID string) (RoomID, error) {
	if err := validateID("forum room id", roomID); err != nil {
		return RoomID{}, err
	}
	return RoomID{kind: KindForum, id: roomID}, nil
}

// ParseRoomID parses the canonical "<kind>/<id>" form.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	kind, id, found := strings.Cut(raw, "/")
	if !found {
		return RoomID{}, fmt.Errorf("room ID %q missing '<kind>/' prefix", raw)
	}
	switch RoomKind(kind) {
	case KindTicket:
		return TicketRoom(id)
	case KindForum:
		return ForumRoom(id)
	default:
		return RoomID{}, fmt.Errorf("room ID %q has unknown kind %q", raw, kind)
	}
}

// MustParseRoomID is ParseRoomID for constants and tests. Panics on
// invalid input.
func MustParseRoomID(raw string) RoomID {
	room, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return room
}

// String returns the canonical form, or "" for the zero value.
func (r RoomID) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.kind) + "/" + r.id
}

// IsZero reports whether r is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// Kind returns the room kind.
func (r RoomID) Kind() RoomKind { return r.kind }

// ID returns the local identifier without the kind prefix.
func (r RoomID) ID() string { return r.id }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// decodes to the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
