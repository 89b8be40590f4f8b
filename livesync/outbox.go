// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

// SendStatus is the lifecycle of one optimistic send.
type SendStatus int

const (
	SendSending SendStatus = iota
	SendConfirmed
	SendFailed
)

func (s SendStatus) String() string {
	switch s {
	case SendSending:
		return "sending"
	case SendConfirmed:
		return "confirmed"
	case SendFailed:
		return "failed"
	}
	return fmt.Sprintf("SendStatus(%d)", int(s))
}

// PendingSend is one locally composed message on its way to the
// server.
type PendingSend struct {
	LocalID           string
	RoomID            ref.RoomID
	SenderID          ref.UserID
	SenderDisplayName string
	Content           string
	SubmittedAt       time.Time
	Status            SendStatus
	// MessageID is the server id once known.
	MessageID string
	// Err is set when Status is SendFailed.
	Err error
}

// RoomSelection reports the selected room and whether its join has
// gone out.
type RoomSelection interface {
	Selected() ref.RoomID
	Ready(room ref.RoomID) bool
}

// OutboxConfig configures an Outbox.
type OutboxConfig struct {
	Connection Connection
	Rooms      RoomSelection
	Stream     *Stream

	// Identity returns the sending user's credential. Sends are
	// refused while it returns nil.
	Identity func() *messaging.Credential

	// SendTimeout bounds the wait for an ack. Zero means 10s.
	SendTimeout time.Duration

	// MatchWindow is how long an acknowledged send without a canonical
	// message waits for its echo. After it the record and its
	// placeholder are dropped, so a later echo is inserted as an
	// ordinary message. Zero means 30s.
	MatchWindow time.Duration

	// RatePerSecond and Burst configure the client-side send limit.
	// Zero means 5 per second with a burst of 10.
	RatePerSecond float64
	Burst         int

	// NewLocalID generates correlation ids. If nil, random UUIDs are
	// used.
	NewLocalID func() string

	// Clock drives timeouts. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Outbox coordinates optimistic sends: each send appears in the
// stream at once as a placeholder and resolves exactly once, to
// Confirmed on a positive ack or its echo, or to Failed on a
// rejection, a write failure or the timeout. Failed sends are never
// retried automatically. It is safe for concurrent use.
type Outbox struct {
	config  OutboxConfig
	limiter *rate.Limiter

	mu      sync.Mutex
	records map[string]*sendRecord

	resolved notifier[PendingSend]
	expired  notifier[PendingSend]
}

type sendRecord struct {
	send PendingSend
	// timer is the ack timeout while Sending, then the echo window
	// while Confirmed.
	timer *clock.Timer
}

// NewOutbox creates an outbox.
func NewOutbox(config OutboxConfig) (*Outbox, error) {
	if config.Connection == nil || config.Rooms == nil || config.Stream == nil {
		return nil, fmt.Errorf("livesync: Connection, Rooms and Stream are required")
	}
	if config.Identity == nil {
		return nil, fmt.Errorf("livesync: Identity is required")
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.MatchWindow <= 0 {
		config.MatchWindow = 30 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.NewLocalID == nil {
		config.NewLocalID = uuid.NewString
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Outbox{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		records: make(map[string]*sendRecord),
	}, nil
}

// Subscribe registers callback for resolutions: every transition of a
// send to Confirmed or Failed, delivered once, in order.
func (o *Outbox) Subscribe(callback func(PendingSend)) (cancel func()) {
	return o.resolved.subscribe(callback)
}

// SubscribeExpired registers callback for confirmed sends whose echo
// never arrived within the match window. Their placeholder has already
// left the stream when callback runs.
func (o *Outbox) SubscribeExpired(callback func(PendingSend)) (cancel func()) {
	return o.expired.subscribe(callback)
}

// Send submits content to room. The preconditions are checked first
// and create nothing when they fail: a Connected session with room
// selected and its join written (else ErrNotConnected), non-blank content (else
// ErrEmptyMessage), and the rate limit (else ErrSendThrottled).
//
// On success the returned local id names a placeholder already in the
// stream. If the frame cannot be written the send is Failed at once;
// both the local id and an error wrapping ErrSendRejected are
// returned.
func (o *Outbox) Send(ctx context.Context, room ref.RoomID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	if state := o.config.Connection.State(); state != Connected {
		return "", fmt.Errorf("%w: connection is %s", ErrNotConnected, state)
	}
	if room.IsZero() || o.config.Rooms.Selected() != room {
		return "", fmt.Errorf("%w: room %s is not selected", ErrNotConnected, room)
	}
	if !o.config.Rooms.Ready(room) {
		return "", fmt.Errorf("%w: join for %s not yet sent", ErrNotConnected, room)
	}
	identity := o.config.Identity()
	if identity == nil {
		return "", fmt.Errorf("%w: no session identity", ErrNotConnected)
	}
	now := o.config.Clock.Now()
	if !o.limiter.AllowN(now, 1) {
		return "", ErrSendThrottled
	}

	send := PendingSend{
		LocalID:           o.config.NewLocalID(),
		RoomID:            room,
		SenderID:          identity.UserID,
		SenderDisplayName: identity.DisplayName,
		Content:           content,
		SubmittedAt:       now,
		Status:            SendSending,
	}

	o.mu.Lock()
	record := &sendRecord{send: send}
	o.records[send.LocalID] = record
	o.config.Stream.AddPlaceholder(send)
	localID := send.LocalID
	record.timer = o.config.Clock.AfterFunc(o.config.SendTimeout, func() { o.expire(localID) })
	o.mu.Unlock()

	err := o.config.Connection.Send(ctx, transport.Frame{
		Type:    transport.TypeSend,
		Room:    room,
		LocalID: localID,
		Content: content,
	})
	if err != nil {
		failure := rejected(err)
		o.fail(localID, failure)
		return localID, failure
	}

	o.config.Logger.Debug("message sent",
		"room_id", room.String(),
		"local_id", localID,
	)
	return localID, nil
}

// HandleAck resolves the send named by an ack frame, or by an error
// frame carrying a local id. Acks for sends that already resolved are
// ignored.
func (o *Outbox) HandleAck(frame transport.Frame) {
	o.mu.Lock()
	record, ok := o.records[frame.LocalID]
	if !ok || record.send.Status != SendSending {
		o.mu.Unlock()
		o.config.Logger.Debug("ignoring ack for resolved send", "local_id", frame.LocalID)
		return
	}
	record.timer.Stop()

	switch {
	case frame.Error != nil:
		o.failLocked(record, rejected(frame.Error))

	case frame.Message != nil:
		// The ack carries the canonical message: bind directly and
		// stop tracking, no echo needed.
		record.send.Status = SendConfirmed
		record.send.MessageID = frame.Message.ID
		o.config.Stream.BindPlaceholder(record.send.LocalID, *frame.Message)
		delete(o.records, record.send.LocalID)
		o.resolved.enqueue(record.send)

	default:
		// Confirmed, but the placeholder stays until the echo binds
		// it. The record lives for the match window.
		record.send.Status = SendConfirmed
		o.config.Stream.MarkPlaceholder(record.send.LocalID, EntryConfirmed)
		localID := record.send.LocalID
		record.timer = o.config.Clock.AfterFunc(o.config.MatchWindow, func() { o.forget(localID) })
		o.resolved.enqueue(record.send)
	}
	o.mu.Unlock()
	o.resolved.flush()
}

// ResolveByEcho records that the stream bound localID to messageID
// from a pushed message.
func (o *Outbox) ResolveByEcho(localID, messageID string) {
	o.mu.Lock()
	record, ok := o.records[localID]
	if !ok || record.send.Status == SendFailed {
		o.mu.Unlock()
		return
	}
	record.timer.Stop()
	delete(o.records, localID)
	announce := record.send.Status == SendSending
	record.send.Status = SendConfirmed
	record.send.MessageID = messageID
	if announce {
		o.resolved.enqueue(record.send)
	}
	o.mu.Unlock()
	o.resolved.flush()
}

// Retry resends a failed send's content as a new send, replacing the
// failed placeholder. If the new send cannot even be attempted (its
// preconditions fail) the failed send is kept.
func (o *Outbox) Retry(ctx context.Context, localID string) (string, error) {
	o.mu.Lock()
	record, ok := o.records[localID]
	if !ok || record.send.Status != SendFailed {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownSend, localID)
	}
	room, content := record.send.RoomID, record.send.Content
	o.mu.Unlock()

	newID, err := o.Send(ctx, room, content)
	if newID == "" {
		return "", err
	}
	o.Discard(localID)
	return newID, err
}

// Discard drops a failed send and its placeholder.
func (o *Outbox) Discard(localID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	record, ok := o.records[localID]
	if !ok || record.send.Status != SendFailed {
		return fmt.Errorf("%w: %s", ErrUnknownSend, localID)
	}
	delete(o.records, localID)
	o.config.Stream.RemovePlaceholder(localID)
	return nil
}

// FailAll fails every send still awaiting its ack, with cause.
func (o *Outbox) FailAll(cause error) {
	o.mu.Lock()
	for _, record := range o.sortedLocked() {
		if record.send.Status == SendSending {
			record.timer.Stop()
			o.failLocked(record, cause)
		}
	}
	o.mu.Unlock()
	o.resolved.flush()
}

// Pending returns every tracked send, oldest first: those awaiting an
// ack, those awaiting their echo, and failed ones not yet retried or
// discarded.
func (o *Outbox) Pending() []PendingSend {
	o.mu.Lock()
	defer o.mu.Unlock()
	records := o.sortedLocked()
	sends := make([]PendingSend, len(records))
	for i, record := range records {
		sends[i] = record.send
	}
	return sends
}

func (o *Outbox) sortedLocked() []*sendRecord {
	records := make([]*sendRecord, 0, len(o.records))
	for _, record := range o.records {
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b *sendRecord) int {
		if c := a.send.SubmittedAt.Compare(b.send.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.send.LocalID, b.send.LocalID)
	})
	return records
}

func (o *Outbox) expire(localID string) {
	o.mu.Lock()
	record, ok := o.records[localID]
	if !ok || record.send.Status != SendSending {
		o.mu.Unlock()
		return
	}
	o.config.Logger.Warn("send timed out",
		"local_id", localID,
		"room_id", record.send.RoomID.String(),
		"timeout", o.config.SendTimeout,
	)
	o.failLocked(record, ErrSendTimeout)
	o.mu.Unlock()
	o.resolved.flush()
}

func (o *Outbox) fail(localID string, cause error) {
	o.mu.Lock()
	record, ok := o.records[localID]
	if !ok || record.send.Status != SendSending {
		o.mu.Unlock()
		return
	}
	record.timer.Stop()
	o.failLocked(record, cause)
	o.mu.Unlock()
	o.resolved.flush()
}

// failLocked is the only path to SendFailed; callers have checked the
// record is still Sending.
func (o *Outbox) failLocked(record *sendRecord, cause error) {
	record.send.Status = SendFailed
	record.send.Err = cause
	record.timer = nil
	o.config.Stream.MarkPlaceholder(record.send.LocalID, EntryFailed)
	o.resolved.enqueue(record.send)
}

// forget drops a confirmed record whose echo never came, along with
// its placeholder.
func (o *Outbox) forget(localID string) {
	o.mu.Lock()
	record, ok := o.records[localID]
	if !ok || record.send.Status != SendConfirmed {
		o.mu.Unlock()
		return
	}
	delete(o.records, localID)
	if o.config.Stream.RemovePlaceholder(localID) {
		o.config.Logger.Debug("acknowledged send never echoed",
			"local_id", localID,
			"room_id", record.send.RoomID.String(),
		)
		o.expired.enqueue(record.send)
	}
	o.mu.Unlock()
	o.expired.flush()
}
