// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries the real-time helpdesk protocol between a
// client and the relay.
//
// Every unit on the wire is a [Frame]. A connection opens with a
// hello frame carrying the bearer token; the server answers welcome
// (naming the authenticated user) or error. The token appears in no
// other frame and never in the connection URL. After the handshake the
// client sends join, leave, send and ping; the server sends snapshot,
// message, ack, error and pong. [Handshake] and [AcceptHandshake]
// implement the two sides of the opening exchange over any [Conn].
//
// Frames are encoded as JSON text messages or as deterministic CBOR
// binary messages (see [Encoding]); the encoding is negotiated as a
// WebSocket subprotocol.
//
// [WebSocketDialer] is the production [Dialer], built on
// github.com/coder/websocket. It keeps the connection alive with
// WebSocket pings; a missed pong closes the connection, which the
// reader observes as a drop. [Accept] is the server-side counterpart.
//
// [Pipe] returns a connected pair of in-memory conns, and
// [MemoryDialer] hands the server end of each dial to the test, with
// injectable dial failures. Neither performs the handshake.
package transport
