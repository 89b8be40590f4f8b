// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
)

// EntryStatus distinguishes confirmed messages from local
// placeholders.
type EntryStatus int

const (
	// EntryConfirmed is a server message, or a placeholder whose send
	// was acknowledged without the canonical message and is waiting
	// for its echo (ID still empty).
	EntryConfirmed EntryStatus = iota
	// EntrySending is a placeholder for a send awaiting its ack.
	EntrySending
	// EntryFailed is a placeholder for a send that timed out or was
	// rejected. It is never matched against incoming messages.
	EntryFailed
)

func (s EntryStatus) String() string {
	switch s {
	case EntryConfirmed:
		return "confirmed"
	case EntrySending:
		return "sending"
	case EntryFailed:
		return "failed"
	}
	return fmt.Sprintf("EntryStatus(%d)", int(s))
}

// Entry is one row of the stream. Placeholders have an empty ID and a
// LocalID until bound to their server message, after which they keep
// the LocalID so views can follow the row.
type Entry struct {
	messaging.Message
	Status EntryStatus
}

// Placeholder reports whether the entry is not yet bound to a server
// message.
func (e Entry) Placeholder() bool { return e.ID == "" }

// key is the entry's identity: the server id once bound, else the
// local id.
func (e Entry) key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.LocalID
}

func entryLess(a, b Entry) bool { return a.Message.Before(b.Message) }

// Incoming is the outcome of ApplyIncoming.
type Incoming struct {
	// Applied is true when the stream changed.
	Applied bool
	// Duplicate is true when the message id was already present.
	Duplicate bool
	// ResolvedLocalID names the placeholder the message was bound to,
	// if any.
	ResolvedLocalID string
}

// Resolution records a placeholder bound to a server message during a
// bulk merge.
type Resolution struct {
	LocalID   string
	MessageID string
}

// MergeResult is the outcome of a bulk merge.
type MergeResult struct {
	// Applied is false when the merge was for another room.
	Applied bool
	// Added counts messages that were new to the stream.
	Added    int
	Resolved []Resolution
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	// MatchWindow bounds how long after submission an unconfirmed send
	// may be matched to an incoming message by content. Zero means 30s.
	MatchWindow time.Duration

	// Clock supplies arrival times. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Stream is the ordered, de-duplicated message view of the selected
// room. History, join snapshots, pushed messages and local
// placeholders all merge into it; entries stay sorted by CreatedAt
// with ties broken by id, each server id appears once, and a
// placeholder is replaced in place by its server copy. Every mutation
// names its room, and mutations for any room other than the current
// one are ignored. It is safe for concurrent use.
type Stream struct {
	config StreamConfig

	mu      sync.Mutex
	room    ref.RoomID
	entries []Entry
	ids     map[string]struct{}
	pending map[string]*placeholderInfo
	// byContent lists unbound placeholders per fingerprint, oldest
	// first.
	byContent map[fingerprint][]string
}

type placeholderInfo struct {
	fingerprint fingerprint
	submittedAt time.Time
}

// NewStream creates a stream with no room.
func NewStream(config StreamConfig) *Stream {
	if config.MatchWindow <= 0 {
		config.MatchWindow = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	stream := &Stream{config: config}
	stream.resetLocked(ref.RoomID{})
	return stream
}

// Reset discards the stream and starts an empty one for room. A zero
// room leaves the stream with no room, ignoring every mutation.
func (s *Stream) Reset(room ref.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(room)
}

func (s *Stream) resetLocked(room ref.RoomID) {
	s.room = room
	s.entries = nil
	s.ids = make(map[string]struct{})
	s.pending = make(map[string]*placeholderInfo)
	s.byContent = make(map[fingerprint][]string)
}

// Room returns the stream's room.
func (s *Stream) Room() ref.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Len returns the number of entries.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the stream in order.
func (s *Stream) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// InitializeFromHistory merges a REST history page. It is a union by
// id like ApplySnapshot, so a response that lands after pushed
// messages loses nothing.
func (s *Stream) InitializeFromHistory(room ref.RoomID, messages []messaging.Message) MergeResult {
	return s.merge("history", room, messages)
}

// ApplySnapshot merges the bulk snapshot pushed after a join.
func (s *Stream) ApplySnapshot(room ref.RoomID, messages []messaging.Message) MergeResult {
	return s.merge("snapshot", room, messages)
}

func (s *Stream) merge(source string, room ref.RoomID, messages []messaging.Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.IsZero() || room != s.room {
		return MergeResult{}
	}

	result := MergeResult{Applied: true}
	skipped := 0
	for _, message := range messages {
		if !s.acceptableLocked(&message) {
			skipped++
			continue
		}
		outcome := s.applyLocked(message)
		if outcome.Applied && !outcome.Duplicate {
			result.Added++
		}
		if outcome.ResolvedLocalID != "" {
			result.Resolved = append(result.Resolved, Resolution{LocalID: outcome.ResolvedLocalID, MessageID: message.ID})
		}
	}
	if skipped > 0 {
		s.config.Logger.Warn("skipped messages without id or from another room",
			"source", source,
			"room_id", room.String(),
			"count", skipped,
		)
	}
	return result
}

// ApplyIncoming merges one pushed message. A message whose id is
// already present is ignored. Otherwise, if it matches an unconfirmed
// placeholder it is bound to that placeholder in place; the match is
// by the local id the server echoed back, or failing that by same
// sender, same content, and arrival within the match window of
// submission, oldest placeholder first. Anything else is inserted at
// its sorted position.
func (s *Stream) ApplyIncoming(room ref.RoomID, message messaging.Message) Incoming {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.IsZero() || room != s.room {
		return Incoming{}
	}
	if message.RoomID.IsZero() {
		message.RoomID = room
	}
	if !s.acceptableLocked(&message) {
		s.config.Logger.Warn("ignoring incoming message",
			"room_id", room.String(),
			"message_room_id", message.RoomID.String(),
			"message_id", message.ID,
		)
		return Incoming{}
	}
	return s.applyLocked(message)
}

// acceptableLocked fills a missing room and rejects messages without
// id or tagged for another room.
func (s *Stream) acceptableLocked(message *messaging.Message) bool {
	if message.RoomID.IsZero() {
		message.RoomID = s.room
	}
	return message.ID != "" && message.RoomID == s.room
}

func (s *Stream) applyLocked(message messaging.Message) Incoming {
	if _, exists := s.ids[message.ID]; exists {
		return Incoming{Duplicate: true}
	}

	if localID := s.matchLocked(message); localID != "" {
		s.bindLocked(localID, message)
		return Incoming{Applied: true, ResolvedLocalID: localID}
	}

	// Server copies of other users' messages never carry our local
	// ids.
	message.LocalID = ""
	s.insertLocked(Entry{Message: message, Status: EntryConfirmed})
	s.ids[message.ID] = struct{}{}
	return Incoming{Applied: true}
}

// matchLocked finds the placeholder message resolves, or "".
func (s *Stream) matchLocked(message messaging.Message) string {
	if message.LocalID != "" {
		if _, ok := s.pending[message.LocalID]; ok {
			if s.entryStatusLocked(message.LocalID) != EntryFailed {
				return message.LocalID
			}
		}
	}

	key := contentFingerprint(message.RoomID, message.SenderID, message.Content)
	now := s.config.Clock.Now()
	for _, localID := range s.byContent[key] {
		info := s.pending[localID]
		if now.Sub(info.submittedAt) > s.config.MatchWindow {
			continue
		}
		if s.entryStatusLocked(localID) == EntryFailed {
			continue
		}
		return localID
	}
	return ""
}

// AddPlaceholder shows a send optimistically. It returns false if the
// send is for another room or its local id is already present.
func (s *Stream) AddPlaceholder(send PendingSend) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if send.RoomID.IsZero() || send.RoomID != s.room {
		return false
	}
	if _, exists := s.pending[send.LocalID]; exists {
		return false
	}

	status := EntrySending
	if send.Status == SendFailed {
		status = EntryFailed
	}
	entry := Entry{
		Message: messaging.Message{
			LocalID:           send.LocalID,
			RoomID:            send.RoomID,
			SenderID:          send.SenderID,
			SenderDisplayName: send.SenderDisplayName,
			Content:           send.Content,
			CreatedAt:         send.SubmittedAt,
		},
		Status: status,
	}
	s.insertLocked(entry)

	key := contentFingerprint(send.RoomID, send.SenderID, send.Content)
	s.pending[send.LocalID] = &placeholderInfo{fingerprint: key, submittedAt: send.SubmittedAt}
	s.byContent[key] = append(s.byContent[key], send.LocalID)
	return true
}

// BindPlaceholder replaces the placeholder localID with its canonical
// server message, repositioned by the server's CreatedAt. If that
// message is already in the stream the placeholder is simply removed.
// It returns false if no unbound placeholder has that local id or the
// message is for another room.
func (s *Stream) BindPlaceholder(localID string, message messaging.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[localID]; !ok {
		return false
	}
	if message.RoomID.IsZero() {
		message.RoomID = s.room
	}
	if message.ID == "" || message.RoomID != s.room {
		return false
	}
	if _, exists := s.ids[message.ID]; exists {
		s.removePlaceholderLocked(localID)
		return true
	}
	s.bindLocked(localID, message)
	return true
}

func (s *Stream) bindLocked(localID string, message messaging.Message) {
	index := s.indexOfLocalLocked(localID)
	s.forgetPlaceholderLocked(localID)
	if index >= 0 {
		s.entries = slices.Delete(s.entries, index, index+1)
	}
	message.LocalID = localID
	s.insertLocked(Entry{Message: message, Status: EntryConfirmed})
	s.ids[message.ID] = struct{}{}
}

// MarkPlaceholder sets the status of an unbound placeholder. It
// returns false if there is none with that local id.
func (s *Stream) MarkPlaceholder(localID string, status EntryStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[localID]; !ok {
		return false
	}
	index := s.indexOfLocalLocked(localID)
	if index < 0 {
		return false
	}
	s.entries[index].Status = status
	return true
}

// RemovePlaceholder deletes an unbound placeholder.
func (s *Stream) RemovePlaceholder(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[localID]; !ok {
		return false
	}
	s.removePlaceholderLocked(localID)
	return true
}

func (s *Stream) removePlaceholderLocked(localID string) {
	if index := s.indexOfLocalLocked(localID); index >= 0 {
		s.entries = slices.Delete(s.entries, index, index+1)
	}
	s.forgetPlaceholderLocked(localID)
}

func (s *Stream) forgetPlaceholderLocked(localID string) {
	info, ok := s.pending[localID]
	if !ok {
		return
	}
	delete(s.pending, localID)
	queue := s.byContent[info.fingerprint]
	if i := slices.Index(queue, localID); i >= 0 {
		queue = slices.Delete(queue, i, i+1)
	}
	if len(queue) == 0 {
		delete(s.byContent, info.fingerprint)
	} else {
		s.byContent[info.fingerprint] = queue
	}
}

func (s *Stream) entryStatusLocked(localID string) EntryStatus {
	if index := s.indexOfLocalLocked(localID); index >= 0 {
		return s.entries[index].Status
	}
	return EntryFailed
}

// indexOfLocalLocked finds an unbound placeholder. Placeholders are
// few and sit near the tail, so the scan runs backwards.
func (s *Stream) indexOfLocalLocked(localID string) int {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Placeholder() && s.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// insertLocked places entry at its sorted position by binary search.
// Arrivals are usually newest, so this is an append in the common
// case, but out-of-order delivery lands correctly.
func (s *Stream) insertLocked(entry Entry) {
	index := sort.Search(len(s.entries), func(i int) bool {
		return !entryLess(s.entries[i], entry)
	})
	s.entries = slices.Insert(s.entries, index, entry)
}

// String renders the stream compactly for debugging.
func (s *Stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.entries))
	for i, entry := range s.entries {
		keys[i] = entry.key()
	}
	return s.room.String() + "[" + strings.Join(keys, " ") + "]"
}
