// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
)

// FrameType names a protocol frame.
type FrameType string

const (
	// Client to server.
	TypeHello FrameType = "hello"
	TypeJoin  FrameType = "join"
	TypeLeave FrameType = "leave"
	TypeSend  FrameType = "send"
	TypePing  FrameType = "ping"

	// Server to client.
	TypeWelcome  FrameType = "welcome"
	TypeSnapshot FrameType = "snapshot"
	TypeMessage  FrameType = "message"
	TypeAck      FrameType = "ack"
	TypeError    FrameType = "error"
	TypePong     FrameType = "pong"
)

// Error codes carried in FrameError.Code.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeUnknownRoom  = "unknown_room"
	CodeNotJoined    = "not_joined"
	CodeInvalidFrame = "invalid_frame"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// Frame is one protocol message. Which fields are meaningful depends
// on Type:
//
//	hello     Token
//	welcome   UserID
//	join      Room
//	leave     Room
//	send      Room, LocalID, Content
//	snapshot  Room, Messages
//	message   Room, Message
//	ack       Room, LocalID, and Message on success or Error on rejection
//	error     Error, optionally Room and LocalID
//	ping/pong none
type Frame struct {
	Type     FrameType           `json:"type" cbor:"type"`
	Room     ref.RoomID          `json:"room,omitzero" cbor:"room"`
	LocalID  string              `json:"local_id,omitempty" cbor:"local_id,omitempty"`
	Token    string              `json:"token,omitempty" cbor:"token,omitempty"`
	UserID   ref.UserID          `json:"user_id,omitzero" cbor:"user_id"`
	Content  string              `json:"content,omitempty" cbor:"content,omitempty"`
	Message  *messaging.Message  `json:"message,omitempty" cbor:"message,omitempty"`
	Messages []messaging.Message `json:"messages,omitempty" cbor:"messages,omitempty"`
	Error    *FrameError         `json:"error,omitempty" cbor:"error,omitempty"`
}

// FrameError is the failure carried by error frames and rejected acks.
type FrameError struct {
	Code   string `json:"code" cbor:"code"`
	Reason string `json:"reason,omitempty" cbor:"reason,omitempty"`
}

func (e *FrameError) Error() string {
	if e.Reason == "" {
		return e.Code
	}
	return e.Code + ": " + e.Reason
}

// ErrorFrame builds an error frame.
func ErrorFrame(code, reason string) Frame {
	return Frame{Type: TypeError, Error: &FrameError{Code: code, Reason: reason}}
}

// Validate checks that f carries the fields its type requires.
func (f Frame) Validate() error {
	switch f.Type {
	case TypeHello:
		if f.Token == "" {
			return fmt.Errorf("transport: hello frame without token")
		}
	case TypeWelcome:
		if f.UserID.IsZero() {
			return fmt.Errorf("transport: welcome frame without user id")
		}
	case TypeJoin, TypeLeave:
		if f.Room.IsZero() {
			return fmt.Errorf("transport: %s frame without room", f.Type)
		}
	case TypeSend:
		if f.Room.IsZero() || f.LocalID == "" {
			return fmt.Errorf("transport: send frame requires room and local_id")
		}
	case TypeSnapshot:
		if f.Room.IsZero() {
			return fmt.Errorf("transport: snapshot frame without room")
		}
	case TypeMessage:
		if f.Message == nil || f.Message.ID == "" {
			return fmt.Errorf("transport: message frame without a message id")
		}
	case TypeAck:
		if f.LocalID == "" {
			return fmt.Errorf("transport: ack frame without local_id")
		}
		if f.Error == nil && f.Message != nil && f.Message.ID == "" {
			return fmt.Errorf("transport: ack for %s carries a message without id", f.LocalID)
		}
	case TypeError:
		if f.Error == nil {
			return fmt.Errorf("transport: error frame without error")
		}
	case TypePing, TypePong:
	default:
		return fmt.Errorf("transport: unknown frame type %q", f.Type)
	}
	return nil
}

// LogValue renders the frame for slog without the token or message
// bodies.
func (f Frame) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", string(f.Type))}
	if !f.Room.IsZero() {
		attrs = append(attrs, slog.String("room_id", f.Room.String()))
	}
	if f.LocalID != "" {
		attrs = append(attrs, slog.String("local_id", f.LocalID))
	}
	if f.Message != nil {
		attrs = append(attrs, slog.String("message_id", f.Message.ID))
	}
	if len(f.Messages) > 0 {
		attrs = append(attrs, slog.Int("messages", len(f.Messages)))
	}
	if f.Error != nil {
		attrs = append(attrs, slog.String("error", f.Error.Error()))
	}
	return slog.GroupValue(attrs...)
}
