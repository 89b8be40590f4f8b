// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"testing"
	"time"
)

func TestMessageBefore(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	early := Message{ID: "m9", CreatedAt: base}
	late := Message{ID: "m1", CreatedAt: base.Add(time.Millisecond)}
	tie := Message{ID: "m2", CreatedAt: base}

	if !early.Before(late) || late.Before(early) {
		t.Error("CreatedAt does not dominate ordering")
	}
	if !tie.Before(early) {
		t.Error("equal timestamps not broken by id")
	}
	if early.Before(early) {
		t.Error("message sorts before itself")
	}

	// An unsent message ties by its local id.
	placeholder := Message{LocalID: "L1", CreatedAt: base}
	if !placeholder.Before(tie) || tie.Before(placeholder) {
		t.Error("placeholder tie not broken by local id")
	}
}
