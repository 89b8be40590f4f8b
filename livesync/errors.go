// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"errors"
	"fmt"

	"github.com/deskline/deskline/lib/ref"
)

var (
	// ErrNotConnected is returned synchronously by operations that
	// need a Connected session (send, join) and by Connect when the
	// credential cannot authenticate.
	ErrNotConnected = errors.New("livesync: not connected")

	// ErrConnectionFailed is carried by the transition to Failed once
	// the retry budget is exhausted.
	ErrConnectionFailed = errors.New("livesync: connection failed")

	// ErrIdentityMismatch is carried by the transition to Failed when
	// the server welcomed a different user than the credential names.
	// It is not retried.
	ErrIdentityMismatch = errors.New("livesync: server authenticated a different user")

	// ErrSendTimeout resolves a send with no acknowledgement within
	// the send timeout.
	ErrSendTimeout = errors.New("livesync: send timed out")

	// ErrSendRejected resolves a send the server refused or that could
	// not be written.
	ErrSendRejected = errors.New("livesync: send rejected")

	// ErrSendThrottled is returned when sends exceed the client-side
	// rate limit. Nothing is created.
	ErrSendThrottled = errors.New("livesync: sending too fast")

	// ErrEmptyMessage is returned for blank content.
	ErrEmptyMessage = errors.New("livesync: empty message")

	// ErrUnknownSend is returned by Retry and Discard for a local id
	// that names no failed send.
	ErrUnknownSend = errors.New("livesync: no failed send with that local id")
)

// TransportError is a protocol-level error reported by the server
// mid-session. It never closes the connection by itself.
type TransportError struct {
	Code    string
	Reason  string
	Room    ref.RoomID
	LocalID string
}

func (e *TransportError) Error() string {
	message := "livesync: server error " + e.Code
	if !e.Room.IsZero() {
		message += " in " + e.Room.String()
	}
	if e.Reason != "" {
		message += ": " + e.Reason
	}
	return message
}

// rejected wraps a server or write failure as ErrSendRejected.
func rejected(reason any) error {
	return fmt.Errorf("%w: %v", ErrSendRejected, reason)
}
