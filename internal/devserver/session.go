// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package devserver

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/deskline/deskline/lib/netutil"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/transport"
)

// outboundBuffer is the number of frames queued per session. A session
// that falls this far behind is disconnected.
const outboundBuffer = 256

// session is one authenticated connection.
type session struct {
	server  *Server
	conn    transport.Conn
	user    User
	limiter *rate.Limiter
	logger  *slog.Logger

	outbound  chan transport.Frame
	done      chan struct{}
	closeOnce sync.Once

	// joined is guarded by server.mu.
	joined map[ref.RoomID]struct{}
}

func newSession(server *Server, conn transport.Conn, user User) *session {
	return &session{
		server:   server,
		conn:     conn,
		user:     user,
		limiter:  rate.NewLimiter(rate.Limit(server.config.SendRate), server.config.SendBurst),
		logger:   server.logger.With("user_id", user.ID.String()),
		outbound: make(chan transport.Frame, outboundBuffer),
		done:     make(chan struct{}),
		joined:   make(map[ref.RoomID]struct{}),
	}
}

// enqueue queues frame without blocking. It may be called with
// server.mu held.
func (s *session) enqueue(frame transport.Frame) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.outbound <- frame:
	default:
		s.logger.Warn("session outbound queue full, disconnecting")
		go s.close()
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// run serves the session until the connection ends.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	go s.write(ctx)

	for {
		frame, err := s.conn.Receive(ctx)
		if err != nil {
			var decodeErr *transport.DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Warn("rejecting malformed frame", "error", err)
				s.enqueue(transport.ErrorFrame(transport.CodeInvalidFrame, decodeErr.Error()))
				continue
			}
			if !errors.Is(err, transport.ErrClosed) && !netutil.IsExpectedCloseError(err) {
				s.logger.Warn("session read failed", "error", err)
			}
			return
		}
		s.handle(frame)
	}
}

func (s *session) write(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outbound:
			if err := s.conn.Send(ctx, frame); err != nil {
				if !errors.Is(err, transport.ErrClosed) && !netutil.IsExpectedCloseError(err) {
					s.logger.Warn("session write failed", "error", err)
				}
				s.close()
				return
			}
		}
	}
}

func (s *session) handle(frame transport.Frame) {
	switch frame.Type {
	case transport.TypeJoin:
		s.join(frame.Room)
	case transport.TypeLeave:
		s.leave(frame.Room)
	case transport.TypeSend:
		s.send(frame)
	case transport.TypePing:
		s.enqueue(transport.Frame{Type: transport.TypePong})
	default:
		s.enqueue(transport.ErrorFrame(transport.CodeInvalidFrame, "unexpected "+string(frame.Type)+" frame"))
	}
}

func (s *session) join(id ref.RoomID) {
	server := s.server
	server.mu.Lock()
	defer server.mu.Unlock()

	target, err := server.roomLocked(id)
	if err != nil {
		reply := transport.ErrorFrame(transport.CodeUnknownRoom, err.Error())
		reply.Room = id
		s.enqueue(reply)
		return
	}
	target.members[s] = struct{}{}
	s.joined[id] = struct{}{}

	recent := target.messages
	if len(recent) > server.config.SnapshotSize {
		recent = recent[len(recent)-server.config.SnapshotSize:]
	}
	s.enqueue(transport.Frame{
		Type:     transport.TypeSnapshot,
		Room:     id,
		Messages: slices.Clone(recent),
	})
	s.logger.Debug("joined room", "room_id", id.String(), "snapshot", len(recent))
}

func (s *session) leave(id ref.RoomID) {
	server := s.server
	server.mu.Lock()
	defer server.mu.Unlock()
	delete(s.joined, id)
	if target, ok := server.rooms[id]; ok {
		delete(target.members, s)
	}
}

func (s *session) send(frame transport.Frame) {
	reject := func(code, reason string) {
		reply := transport.ErrorFrame(code, reason)
		reply.Room = frame.Room
		reply.LocalID = frame.LocalID
		s.enqueue(reply)
	}

	server := s.server
	if err := server.checkContent(frame.Content); err != nil {
		reject(transport.CodeInvalidFrame, err.Error())
		return
	}
	if !s.limiter.Allow() {
		reject(transport.CodeRateLimited, "sending too fast")
		return
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if _, ok := s.joined[frame.Room]; !ok {
		reject(transport.CodeNotJoined, "join the room before sending")
		return
	}
	target, err := server.roomLocked(frame.Room)
	if err != nil {
		reject(transport.CodeUnknownRoom, err.Error())
		return
	}

	message := server.appendLocked(target, frame.Room, s.user, frame.Content)
	acked := message
	acked.LocalID = frame.LocalID
	s.enqueue(transport.Frame{Type: transport.TypeAck, Room: frame.Room, LocalID: frame.LocalID, Message: &acked})
	server.broadcastLocked(target, message, s, frame.LocalID)
}
