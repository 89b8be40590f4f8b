// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
)

// ErrUnauthorized is returned by Handshake when the server refuses
// the token, and by an Authenticator to reject one.
var ErrUnauthorized = errors.New("transport: token rejected")

// Authenticator maps a bearer token to the user it authenticates.
type Authenticator func(ctx context.Context, token string) (ref.UserID, error)

// Handshake sends the hello frame on a freshly opened conn and waits
// for the server's verdict. It returns the authenticated user.
func Handshake(ctx context.Context, conn Conn, token *secret.Buffer) (ref.UserID, error) {
	tokenString, err := token.String()
	if err != nil {
		return ref.UserID{}, fmt.Errorf("transport: reading token: %w", err)
	}
	if tokenString == "" {
		return ref.UserID{}, fmt.Errorf("transport: empty token")
	}

	if err := conn.Send(ctx, Frame{Type: TypeHello, Token: tokenString}); err != nil {
		return ref.UserID{}, fmt.Errorf("transport: sending hello: %w", err)
	}

	reply, err := conn.Receive(ctx)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("transport: awaiting welcome: %w", err)
	}
	switch reply.Type {
	case TypeWelcome:
		if reply.UserID.IsZero() {
			return ref.UserID{}, fmt.Errorf("transport: welcome names no user")
		}
		return reply.UserID, nil
	case TypeError:
		if reply.Error.Code == CodeUnauthorized {
			return ref.UserID{}, fmt.Errorf("%w: %s", ErrUnauthorized, reply.Error.Reason)
		}
		return ref.UserID{}, fmt.Errorf("transport: handshake refused: %w", reply.Error)
	}
	return ref.UserID{}, fmt.Errorf("transport: expected welcome, got %s", reply.Type)
}

// AcceptHandshake is the server side of Handshake: it requires a
// hello frame first, authenticates its token, and answers welcome or
// an unauthorized error frame.
func AcceptHandshake(ctx context.Context, conn Conn, authenticate Authenticator) (ref.UserID, error) {
	hello, err := conn.Receive(ctx)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("transport: awaiting hello: %w", err)
	}
	if hello.Type != TypeHello {
		conn.Send(ctx, ErrorFrame(CodeInvalidFrame, "expected hello"))
		return ref.UserID{}, fmt.Errorf("transport: expected hello, got %s", hello.Type)
	}

	user, err := authenticate(ctx, hello.Token)
	if err != nil {
		conn.Send(ctx, ErrorFrame(CodeUnauthorized, "invalid token"))
		return ref.UserID{}, fmt.Errorf("transport: authenticating hello: %w", err)
	}

	if err := conn.Send(ctx, Frame{Type: TypeWelcome, UserID: user}); err != nil {
		return ref.UserID{}, fmt.Errorf("transport: sending welcome: %w", err)
	}
	return user, nil
}
