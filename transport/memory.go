// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
)

// pipeBuffer is the number of frames each direction holds before Send
// blocks.
const pipeBuffer = 256

// pipeState is shared by both ends of a pipe. Closing either end
// closes both, like net.Pipe.
type pipeState struct {
	closeOnce sync.Once
	closed    chan struct{}
}

// PipeConn is one end of an in-memory connection.
type PipeConn struct {
	state   *pipeState
	inbound chan Frame
	peer    *PipeConn

	mu        sync.Mutex
	sendError error
}

var _ Conn = (*PipeConn)(nil)

// Pipe returns two connected ends. Frames sent on one are received on
// the other, in order, unencoded.
func Pipe() (client, server *PipeConn) {
	state := &pipeState{closed: make(chan struct{})}
	client = &PipeConn{state: state, inbound: make(chan Frame, pipeBuffer)}
	server = &PipeConn{state: state, inbound: make(chan Frame, pipeBuffer)}
	client.peer = server
	server.peer = client
	return client, server
}

// FailSends makes every subsequent Send on this end return err. A nil
// err restores normal delivery.
func (c *PipeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendError = err
}

func (c *PipeConn) Send(ctx context.Context, frame Frame) error {
	c.mu.Lock()
	injected := c.sendError
	c.mu.Unlock()
	if injected != nil {
		return injected
	}

	select {
	case <-c.state.closed:
		return ErrClosed
	default:
	}
	select {
	case c.peer.inbound <- frame:
		return nil
	case <-c.state.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns frames already queued before reporting closure.
func (c *PipeConn) Receive(ctx context.Context) (Frame, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	default:
	}
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.state.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *PipeConn) Close() error {
	c.state.closeOnce.Do(func() { close(c.state.closed) })
	return nil
}

// Done is closed when either end has been closed.
func (c *PipeConn) Done() <-chan struct{} { return c.state.closed }

// MemoryDialer is a Dialer for tests. Each successful Dial creates a
// Pipe, returns the client end, and publishes the server end on
// Accepted. No handshake is performed; the dialed token is recorded
// on the ServerEnd and the welcomed user is whatever WelcomeAs set.
type MemoryDialer struct {
	mu       sync.Mutex
	failures []error
	dials    int
	welcome  ref.UserID
	accepted chan *ServerEnd
}

var _ Dialer = (*MemoryDialer)(nil)

// ServerEnd is the relay side of one MemoryDialer connection.
type ServerEnd struct {
	*PipeConn
	Token string
}

// NewMemoryDialer returns a dialer whose server ends are buffered on
// Accepted.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{accepted: make(chan *ServerEnd, 64)}
}

// FailNext queues errors returned by the next len(errs) dials, in
// order.
func (d *MemoryDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// WelcomeAs sets the user reported by subsequent successful dials.
// The zero UserID, the default, reports none.
func (d *MemoryDialer) WelcomeAs(user ref.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.welcome = user
}

// Dials returns the number of Dial calls so far, failed ones included.
func (d *MemoryDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Accepted delivers the server end of each successful dial.
func (d *MemoryDialer) Accepted() <-chan *ServerEnd { return d.accepted }

func (d *MemoryDialer) Dial(ctx context.Context, token *secret.Buffer) (Conn, ref.UserID, error) {
	d.mu.Lock()
	d.dials++
	var failure error
	if len(d.failures) > 0 {
		failure = d.failures[0]
		d.failures = d.failures[1:]
	}
	welcome := d.welcome
	d.mu.Unlock()

	if failure != nil {
		return nil, ref.UserID{}, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, ref.UserID{}, err
	}
	tokenString, err := token.String()
	if err != nil {
		return nil, ref.UserID{}, fmt.Errorf("transport: reading token: %w", err)
	}

	client, server := Pipe()
	select {
	case d.accepted <- &ServerEnd{PipeConn: server, Token: tokenString}:
	default:
		return nil, ref.UserID{}, fmt.Errorf("transport: memory dialer accept queue full")
	}
	return client, welcome, nil
}
