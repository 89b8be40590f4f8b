// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

// ErrUnknownRoom is returned for rooms the relay does not host.
var ErrUnknownRoom = errors.New("devserver: unknown room")

// User is an account known to the relay.
type User struct {
	ID          ref.UserID
	DisplayName string
	Role        messaging.Role
}

// Config configures a Server.
type Config struct {
	// Users maps bearer tokens to accounts.
	Users map[string]User

	// Rooms lists the hosted rooms. If empty, any well-formed room is
	// created on first use.
	Rooms []ref.RoomID

	// SnapshotSize is the number of recent messages sent on join.
	// Zero means 50.
	SnapshotSize int

	// MaxPageSize caps the history limit parameter. Zero means 200.
	MaxPageSize int

	// MaxContentLength bounds message content in bytes. Zero means
	// 4000.
	MaxContentLength int

	// SendRate and SendBurst limit sends per connection. Zero means
	// 20 per second with a burst of 40.
	SendRate  float64
	SendBurst int

	// Compression enables permessage-deflate.
	Compression bool

	// OriginPatterns lists allowed browser origins besides the
	// request host.
	OriginPatterns []string

	// Clock assigns message timestamps. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server is the relay. It is an http.Handler; mount it at the root.
type Server struct {
	config Config
	mux    *http.ServeMux
	logger *slog.Logger

	mu       sync.Mutex
	rooms    map[ref.RoomID]*room
	sessions map[*session]struct{}
	sequence uint64
	lastTime time.Time
	closed   bool
}

type room struct {
	messages []messaging.Message
	members  map[*session]struct{}
}

// NewServer creates a relay with the configured rooms, all empty.
func NewServer(config Config) (*Server, error) {
	if len(config.Users) == 0 {
		return nil, fmt.Errorf("devserver: at least one user is required")
	}
	for token, user := range config.Users {
		if token == "" || user.ID.IsZero() {
			return nil, fmt.Errorf("devserver: user entries need a token and an id")
		}
	}
	if config.SnapshotSize <= 0 {
		config.SnapshotSize = 50
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 200
	}
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = 4000
	}
	if config.SendRate <= 0 {
		config.SendRate = 20
	}
	if config.SendBurst <= 0 {
		config.SendBurst = 40
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	server := &Server{
		config:   config,
		logger:   config.Logger,
		rooms:    make(map[ref.RoomID]*room),
		sessions: make(map[*session]struct{}),
	}
	for _, id := range config.Rooms {
		server.rooms[id] = &room{members: make(map[*session]struct{})}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", server.handleWebSocket)
	mux.HandleFunc("GET /api/tickets/{id}/messages", server.handleHistory(ref.TicketRoom))
	mux.HandleFunc("GET /api/forum/rooms/{id}/messages", server.handleHistory(ref.ForumRoom))
	mux.HandleFunc("GET /health", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNoContent)
	})
	server.mux = mux
	return server, nil
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.mux.ServeHTTP(writer, request)
}

// Post appends a message from sender to id as if it had been sent
// over the protocol, and broadcasts it to the room's members. It is
// how tests and the seed file inject other users' traffic.
func (s *Server) Post(id ref.RoomID, sender User, content string) (messaging.Message, error) {
	if err := s.checkContent(content); err != nil {
		return messaging.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	target, err := s.roomLocked(id)
	if err != nil {
		return messaging.Message{}, err
	}
	message := s.appendLocked(target, id, sender, content)
	s.broadcastLocked(target, message, nil, "")
	return message, nil
}

// Messages returns a copy of id's messages in order.
func (s *Server) Messages(id ref.RoomID) []messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.rooms[id]; ok {
		return slices.Clone(target.messages)
	}
	return nil
}

// Sessions returns the number of authenticated connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Disconnect closes every connection of user, for exercising client
// reconnects. It returns how many were closed.
func (s *Server) Disconnect(user ref.UserID) int {
	s.mu.Lock()
	var victims []*session
	for candidate := range s.sessions {
		if candidate.user.ID == user {
			victims = append(victims, candidate)
		}
	}
	s.mu.Unlock()

	for _, victim := range victims {
		victim.close()
	}
	return len(victims)
}

// Close disconnects every session and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for existing := range s.sessions {
		sessions = append(sessions, existing)
	}
	s.mu.Unlock()

	for _, existing := range sessions {
		existing.close()
	}
}

func (s *Server) authenticate(_ context.Context, token string) (ref.UserID, error) {
	user, ok := s.config.Users[token]
	if !ok {
		return ref.UserID{}, fmt.Errorf("devserver: unknown token")
	}
	return user.ID, nil
}

func (s *Server) userByID(id ref.UserID) User {
	for _, user := range s.config.Users {
		if user.ID == id {
			return user
		}
	}
	return User{ID: id, DisplayName: id.String()}
}

func (s *Server) userForToken(token string) (User, bool) {
	user, ok := s.config.Users[token]
	return user, ok
}

func (s *Server) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("devserver: empty content")
	}
	if len(content) > s.config.MaxContentLength {
		return fmt.Errorf("devserver: content exceeds %d bytes", s.config.MaxContentLength)
	}
	return nil
}

// roomLocked returns id's room, creating it when the relay hosts any
// room on demand.
func (s *Server) roomLocked(id ref.RoomID) (*room, error) {
	if id.IsZero() {
		return nil, ErrUnknownRoom
	}
	if target, ok := s.rooms[id]; ok {
		return target, nil
	}
	if len(s.config.Rooms) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, id)
	}
	target := &room{members: make(map[*session]struct{})}
	s.rooms[id] = target
	return target, nil
}

// appendLocked stores a new message. Timestamps strictly increase so
// that CreatedAt order and arrival order agree.
func (s *Server) appendLocked(target *room, id ref.RoomID, sender User, content string) messaging.Message {
	s.sequence++
	now := s.config.Clock.Now().UTC()
	if !now.After(s.lastTime) {
		now = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = now

	message := messaging.Message{
		ID:                fmt.Sprintf("m%d", s.sequence),
		RoomID:            id,
		SenderID:          sender.ID,
		SenderDisplayName: sender.DisplayName,
		Content:           content,
		CreatedAt:         now,
	}
	target.messages = append(target.messages, message)
	return message
}

// broadcastLocked pushes message to every member. The sender's copy
// carries localID.
func (s *Server) broadcastLocked(target *room, message messaging.Message, sender *session, localID string) {
	for member := range target.members {
		copied := message
		if member == sender {
			copied.LocalID = localID
		}
		member.enqueue(transport.Frame{Type: transport.TypeMessage, Room: message.RoomID, Message: &copied})
	}
}

func (s *Server) register(member *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[member] = struct{}{}
	return true
}

func (s *Server) unregister(member *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, member)
	for _, target := range s.rooms {
		delete(target.members, member)
	}
}

func (s *Server) handleWebSocket(writer http.ResponseWriter, request *http.Request) {
	conn, err := transport.Accept(writer, request, transport.AcceptConfig{
		Compression:    s.config.Compression,
		OriginPatterns: s.config.OriginPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", request.RemoteAddr)
		return
	}
	defer conn.Close()

	ctx := request.Context()
	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	userID, err := transport.AcceptHandshake(handshakeCtx, conn, s.authenticate)
	cancel()
	if err != nil {
		s.logger.Info("handshake rejected", "error", err, "remote_addr", request.RemoteAddr)
		return
	}

	member := newSession(s, conn, s.userByID(userID))
	if !s.register(member) {
		return
	}
	defer s.unregister(member)

	s.logger.Info("session opened",
		"user_id", userID.String(),
		"encoding", conn.Encoding().String(),
	)
	member.run(ctx)
	s.logger.Info("session closed", "user_id", userID.String())
}
