// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is deskline's CBOR configuration. The binary wire
// encoding of the real-time protocol (subprotocol deskline.v1+cbor)
// uses it; nothing else should import fxamacker/cbor directly.
//
// Encoding is Core Deterministic (RFC 8949 §4.2). Struct fields use
// their json tags, so one set of tags serves both wire encodings.
// Identifier types (ref.RoomID, ref.UserID) travel as text strings via
// encoding.TextMarshaler, and time.Time as RFC 3339 text with
// nanoseconds, matching the JSON form byte-for-byte in meaning.
package codec
