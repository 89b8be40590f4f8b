// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable identifier types for the
// helpdesk messaging layer.
//
// A [RoomID] names a conversation scope: the communication log of one
// support ticket, or one forum room. Its canonical text form is
// "<kind>/<id>" (for example "ticket/4821" or "forum/imaging-devices"),
// which is what appears on the wire, in configuration, and in logs.
// A [UserID] names an account in the helpdesk directory.
//
// Values are parsed once at the boundary (wire frames, REST responses,
// flags) and passed around as typed values afterwards. JSON and CBOR
// marshaling use the canonical text form via encoding.TextMarshaler.
package ref
