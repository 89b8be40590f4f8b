// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
)

// ErrClosed is returned by Send and Receive after the connection has
// been closed by either side.
var ErrClosed = errors.New("transport: connection closed")

// Conn is an established, authenticated protocol connection.
// Send and Receive may be called concurrently with each other, but
// each must have a single caller at a time.
type Conn interface {
	// Send writes one frame.
	Send(ctx context.Context, frame Frame) error

	// Receive blocks for the next frame. A *DecodeError means one
	// malformed message was skipped; any other error is terminal for
	// the connection.
	Receive(ctx context.Context) (Frame, error)

	// Close releases the connection. It is idempotent.
	Close() error
}

// Dialer opens connections to the relay, authenticating with token.
// Dial also returns the user the server's welcome named, or the zero
// UserID from a dialer that performs no handshake. Implementations
// must not retain token beyond the handshake.
type Dialer interface {
	Dial(ctx context.Context, token *secret.Buffer) (Conn, ref.UserID, error)
}
