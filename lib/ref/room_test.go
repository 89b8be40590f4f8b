// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind RoomKind
		wantID   string
		wantErr  string
	}{
		{name: "ticket", input: "ticket/4821", wantKind: KindTicket, wantID: "4821"},
		{name: "forum", input: "forum/imaging-devices", wantKind: KindForum, wantID: "imaging-devices"},
		{name: "uuid ticket", input: "ticket/6f1c2b0e-8d4a-4f5e-9b1a-0c9d7e2f3a41", wantKind: KindTicket, wantID: "6f1c2b0e-8d4a-4f5e-9b1a-0c9d7e2f3a41"},
		{name: "empty", input: "", wantErr: "empty room ID"},
		{name: "no kind", input: "4821", wantErr: "missing '<kind>/' prefix"},
		{name: "unknown kind", input: "chat/4821", wantErr: "unknown kind"},
		{name: "empty id", input: "ticket/", wantErr: "empty ticket id"},
		{name: "slash in id", input: "forum/a/b", wantErr: "invalid character"},
		{name: "space in id", input: "forum/front desk", wantErr: "invalid character"},
		{name: "too long", input: "ticket/" + strings.Repeat("a", maxIDLength+1), wantErr: "too long"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			room, err := ParseRoomID(test.input)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseRoomID(%q) succeeded, want error containing %q", test.input, test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("ParseRoomID(%q) error = %q, want containing %q", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRoomID(%q): %v", test.input, err)
			}
			if room.Kind() != test.wantKind || room.ID() != test.wantID {
				t.Errorf("ParseRoomID(%q) = (%s, %s), want (%s, %s)", test.input, room.Kind(), room.ID(), test.wantKind, test.wantID)
			}
			if room.String() != test.input {
				t.Errorf("String() = %q, want %q", room.String(), test.input)
			}
		})
	}
}

func TestRoomIDZeroValue(t *testing.T) {
	var room RoomID
	if !room.IsZero() {
		t.Fatal("zero RoomID should report IsZero")
	}
	if room.String() != "" {
		t.Errorf("zero RoomID String() = %q", room.String())
	}
	if room == MustParseRoomID("ticket/1") {
		t.Error("zero RoomID compares equal to a parsed room")
	}
}

func TestRoomIDComparable(t *testing.T) {
	first := MustParseRoomID("forum/general")
	second, err := ForumRoom("general")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("equal rooms should compare equal")
	}
	ticket, _ := TicketRoom("general")
	if first == ticket {
		t.Fatal("rooms with different kinds should differ")
	}
}

func TestRoomIDJSON(t *testing.T) {
	type wrapper struct {
		Room RoomID `json:"room"`
	}
	encoded, err := json.Marshal(wrapper{Room: MustParseRoomID("ticket/77")})
	if err != nil {
		t.Fatal(err)
	}
	if string(encoded) != `{"room":"ticket/77"}` {
		t.Fatalf("Marshal = %s", encoded)
	}

	var decoded wrapper
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Room != MustParseRoomID("ticket/77") {
		t.Errorf("round trip = %v", decoded.Room)
	}

	if err := json.Unmarshal([]byte(`{"room":"bogus"}`), &decoded); err == nil {
		t.Error("Unmarshal accepted an invalid room")
	}
}

func TestParseUserID(t *testing.T) {
	if _, err := ParseUserID("agent-17"); err != nil {
		t.Fatalf("ParseUserID: %v", err)
	}
	if _, err := ParseUserID(""); err == nil {
		t.Error("ParseUserID accepted empty id")
	}
	if _, err := ParseUserID("bad id"); err == nil {
		t.Error("ParseUserID accepted id with a space")
	}
}
