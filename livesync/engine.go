// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

// HistoryFetcher loads a room's message history. *messaging.Client
// implements it.
type HistoryFetcher interface {
	History(ctx context.Context, credential *messaging.Credential, room ref.RoomID, options messaging.HistoryOptions) ([]messaging.Message, error)
}

// EventKind classifies Engine events.
type EventKind int

const (
	// EventState reports a connection state change.
	EventState EventKind = iota
	// EventStream reports that Stream() changed.
	EventStream
	// EventSend reports a send resolving to Confirmed or Failed.
	EventSend
	// EventTransportError reports a server error frame.
	EventTransportError
	// EventHistoryError reports a failed history fetch.
	EventHistoryError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventStream:
		return "stream"
	case EventSend:
		return "send"
	case EventTransportError:
		return "transport_error"
	case EventHistoryError:
		return "history_error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a notification for the rendering layer. Fields beyond Kind
// are set as relevant: State for EventState, Room for stream and
// history events, Send for EventSend, Err for failures.
type Event struct {
	Kind  EventKind
	State State
	Room  ref.RoomID
	Send  PendingSend
	Err   error
}

// Config configures an Engine.
type Config struct {
	Dialer transport.Dialer

	// History loads a room's backlog on selection. If nil, streams are
	// seeded by join snapshots alone.
	History HistoryFetcher

	// HistoryLimit is the page size requested on selection. Zero uses
	// the server default.
	HistoryLimit int

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JoinTimeout    time.Duration
	SendTimeout    time.Duration
	MatchWindow    time.Duration
	RatePerSecond  float64
	Burst          int

	// NewLocalID overrides local id generation, for tests.
	NewLocalID func() string

	// Clock drives every timer. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Engine is the messaging core for one session. It owns the
// connection Manager, the room Tracker, the Stream for the selected
// room and the Outbox, and routes inbound frames between them. The
// rendering layer reads Stream, Pending and State, calls SelectRoom
// and Send, and subscribes to Events.
type Engine struct {
	config  Config
	manager *Manager
	tracker *Tracker
	stream  *Stream
	outbox  *Outbox
	events  notifier[Event]

	mu            sync.Mutex
	cancelHistory context.CancelFunc
	// historyFor is the room whose history fetch was last started.
	historyFor    ref.RoomID
	closed        bool
}

// New wires an Engine.
func New(config Config) (*Engine, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	engine := &Engine{config: config}

	manager, err := NewManager(ManagerConfig{
		Dialer:         config.Dialer,
		MaxAttempts:    config.MaxAttempts,
		InitialBackoff: config.InitialBackoff,
		MaxBackoff:     config.MaxBackoff,
		OnFrame:        engine.handleFrame,
		OnDecodeError:  engine.handleDecodeError,
		Clock:          config.Clock,
		Logger:         config.Logger.With("component", "connection"),
	})
	if err != nil {
		return nil, err
	}
	engine.manager = manager

	engine.tracker, err = NewTracker(TrackerConfig{
		Connection:  manager,
		JoinTimeout: config.JoinTimeout,
		Listener:    engine,
		Clock:       config.Clock,
		Logger:      config.Logger.With("component", "rooms"),
	})
	if err != nil {
		return nil, err
	}

	engine.stream = NewStream(StreamConfig{
		MatchWindow: config.MatchWindow,
		Clock:       config.Clock,
		Logger:      config.Logger.With("component", "stream"),
	})

	engine.outbox, err = NewOutbox(OutboxConfig{
		Connection:    manager,
		Rooms:         engine.tracker,
		Stream:        engine.stream,
		Identity:      manager.Credential,
		SendTimeout:   config.SendTimeout,
		MatchWindow:   config.MatchWindow,
		RatePerSecond: config.RatePerSecond,
		Burst:         config.Burst,
		NewLocalID:    config.NewLocalID,
		Clock:         config.Clock,
		Logger:        config.Logger.With("component", "outbox"),
	})
	if err != nil {
		return nil, err
	}

	manager.Subscribe(engine.handleState)
	engine.outbox.Subscribe(engine.handleResolved)
	engine.outbox.SubscribeExpired(engine.handleExpired)
	return engine, nil
}

// Subscribe registers callback for events. Events are delivered one at
// a time, in order, with no Engine lock held.
func (e *Engine) Subscribe(callback func(Event)) (cancel func()) {
	return e.events.subscribe(callback)
}

// Connect starts the session; see Manager.Connect.
func (e *Engine) Connect(credential *messaging.Credential) error {
	return e.manager.Connect(credential)
}

// Disconnect ends the session. The stream is cleared, the selection
// dropped, and sends awaiting an ack fail with ErrNotConnected.
func (e *Engine) Disconnect() {
	e.manager.Disconnect()
}

// Retry restarts dialing after Failed.
func (e *Engine) Retry() error {
	return e.manager.Retry()
}

// AwaitConnected blocks until Connected, Failed, Disconnected or ctx
// is done.
func (e *Engine) AwaitConnected(ctx context.Context) error {
	return e.manager.AwaitConnected(ctx)
}

// State returns the connection state.
func (e *Engine) State() State { return e.manager.State() }

// Bind follows store: each credential set connects, clearing
// disconnects. The current credential, if any, is applied at once.
func (e *Engine) Bind(store *messaging.CredentialStore) (cancel func()) {
	cancel = store.Subscribe(e.applyCredential)
	if current := store.Current(); current != nil {
		e.applyCredential(current)
	}
	return cancel
}

func (e *Engine) applyCredential(credential *messaging.Credential) {
	if credential == nil {
		e.config.Logger.Info("credential cleared, disconnecting")
		e.Disconnect()
		return
	}
	if err := e.Connect(credential); err != nil {
		e.config.Logger.Warn("credential rejected", "error", err)
	}
}

// SelectRoom switches the view to room: the stream is reset, the
// tracker joins room (now, or once Connected), and history is fetched
// in the background. A history response that arrives after the
// selection moved on is discarded. Selecting the current room does
// nothing.
func (e *Engine) SelectRoom(ctx context.Context, room ref.RoomID) error {
	if room.IsZero() {
		e.DeselectRoom()
		return nil
	}
	if e.tracker.Selected() == room {
		return nil
	}

	e.stream.Reset(room)
	e.publish(Event{Kind: EventStream, Room: room})
	joinErr := e.tracker.SelectRoom(room)
	e.fetchHistory(ctx, room)
	return joinErr
}

// DeselectRoom clears the selection and the stream.
func (e *Engine) DeselectRoom() {
	e.stopHistory()
	had := e.stream.Room()
	e.tracker.DeselectRoom()
	e.stream.Reset(ref.RoomID{})
	if !had.IsZero() {
		e.publish(Event{Kind: EventStream})
	}
}

// Selected returns the selected room.
func (e *Engine) Selected() ref.RoomID { return e.tracker.Selected() }

// Send submits content to the selected room; see Outbox.Send.
func (e *Engine) Send(ctx context.Context, content string) (string, error) {
	room := e.tracker.Selected()
	if room.IsZero() {
		return "", fmt.Errorf("%w: no room selected", ErrNotConnected)
	}
	localID, err := e.outbox.Send(ctx, room, content)
	if localID != "" {
		e.publish(Event{Kind: EventStream, Room: room})
	}
	return localID, err
}

// RetrySend resends a failed send.
func (e *Engine) RetrySend(ctx context.Context, localID string) (string, error) {
	newID, err := e.outbox.Retry(ctx, localID)
	if newID != "" {
		e.publish(Event{Kind: EventStream, Room: e.stream.Room()})
	}
	return newID, err
}

// Discard drops a failed send.
func (e *Engine) Discard(localID string) error {
	if err := e.outbox.Discard(localID); err != nil {
		return err
	}
	e.publish(Event{Kind: EventStream, Room: e.stream.Room()})
	return nil
}

// Stream returns the selected room's entries in order.
func (e *Engine) Stream() []Entry { return e.stream.Entries() }

// Pending returns tracked sends, oldest first.
func (e *Engine) Pending() []PendingSend { return e.outbox.Pending() }

// Close disconnects and stops background work. The Engine is not
// reusable afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stopHistory()
	e.Disconnect()
}

func (e *Engine) publish(event Event) {
	e.events.publish(event)
}

func (e *Engine) handleState(change StateChange) {
	e.tracker.HandleState(change)

	if change.To == Connected {
		// A room selected before the session had a credential has no
		// history yet.
		room := e.tracker.Selected()
		e.mu.Lock()
		missing := !room.IsZero() && room != e.historyFor
		e.mu.Unlock()
		if missing {
			e.fetchHistory(context.Background(), room)
		}
	}

	if change.To == Disconnected {
		e.stopHistory()
		e.outbox.FailAll(fmt.Errorf("%w: session ended", ErrNotConnected))
		e.tracker.DeselectRoom()
		if !e.stream.Room().IsZero() {
			e.stream.Reset(ref.RoomID{})
			e.publish(Event{Kind: EventStream})
		}
	}
	e.publish(Event{Kind: EventState, State: change.To, Err: change.Err})
}

func (e *Engine) handleResolved(send PendingSend) {
	e.publish(Event{Kind: EventSend, Room: send.RoomID, Send: send, Err: send.Err})
	e.publish(Event{Kind: EventStream, Room: send.RoomID})
}

// handleExpired refetches history after an acknowledged placeholder
// is dropped, so the accepted message returns under its server id.
func (e *Engine) handleExpired(send PendingSend) {
	e.publish(Event{Kind: EventStream, Room: send.RoomID})
	if e.tracker.Selected() == send.RoomID {
		e.fetchHistory(context.Background(), send.RoomID)
	}
}

// RoomJoinRequested implements TrackerListener.
func (e *Engine) RoomJoinRequested(room ref.RoomID) {
	e.config.Logger.Debug("awaiting snapshot", "room_id", room.String())
}

// RoomLeft implements TrackerListener.
func (e *Engine) RoomLeft(room ref.RoomID) {
	e.config.Logger.Debug("room left", "room_id", room.String())
}

// handleFrame routes one inbound frame. It runs on the connection's
// reader goroutine.
func (e *Engine) handleFrame(frame transport.Frame) {
	switch frame.Type {
	case transport.TypeSnapshot:
		if !e.tracker.SnapshotReceived(frame.Room) {
			e.config.Logger.Debug("ignoring snapshot for unselected room", "room_id", frame.Room.String())
			return
		}
		result := e.stream.ApplySnapshot(frame.Room, frame.Messages)
		e.resolve(result)
		if result.Applied {
			e.publish(Event{Kind: EventStream, Room: frame.Room})
		}

	case transport.TypeMessage:
		room := frame.Room
		if room.IsZero() {
			room = frame.Message.RoomID
		}
		incoming := e.stream.ApplyIncoming(room, *frame.Message)
		if incoming.ResolvedLocalID != "" {
			e.outbox.ResolveByEcho(incoming.ResolvedLocalID, frame.Message.ID)
		}
		if incoming.Applied {
			e.publish(Event{Kind: EventStream, Room: room})
		}

	case transport.TypeAck:
		e.outbox.HandleAck(frame)

	case transport.TypeError:
		if frame.LocalID != "" {
			e.outbox.HandleAck(frame)
			return
		}
		transportErr := &TransportError{
			Code:   frame.Error.Code,
			Reason: frame.Error.Reason,
			Room:   frame.Room,
		}
		e.config.Logger.Warn("server reported an error",
			"code", transportErr.Code,
			"reason", transportErr.Reason,
			"room_id", frame.Room.String(),
		)
		e.publish(Event{Kind: EventTransportError, Room: frame.Room, Err: transportErr})

	case transport.TypePong:

	default:
		e.config.Logger.Debug("ignoring frame", "frame", frame)
	}
}

func (e *Engine) handleDecodeError(err error) {
	e.publish(Event{Kind: EventTransportError, Err: &TransportError{
		Code:   transport.CodeInvalidFrame,
		Reason: err.Error(),
	}})
}

func (e *Engine) resolve(result MergeResult) {
	for _, resolution := range result.Resolved {
		e.outbox.ResolveByEcho(resolution.LocalID, resolution.MessageID)
	}
}

func (e *Engine) fetchHistory(ctx context.Context, room ref.RoomID) {
	if e.config.History == nil {
		return
	}
	credential := e.manager.Credential()
	if !credential.Usable() {
		// Nothing to authenticate with yet; the join snapshot will
		// seed the stream once connected.
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.cancelHistory != nil {
		e.cancelHistory()
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancelHistory = cancel
	e.historyFor = room
	e.mu.Unlock()

	go func() {
		defer cancel()
		messages, err := e.config.History.History(ctx, credential, room, messaging.HistoryOptions{Limit: e.config.HistoryLimit})
		if e.tracker.Selected() != room {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.config.Logger.Warn("history fetch failed",
				"room_id", room.String(),
				"error", err,
			)
			e.publish(Event{Kind: EventHistoryError, Room: room, Err: err})
			return
		}
		result := e.stream.InitializeFromHistory(room, messages)
		e.resolve(result)
		if result.Applied {
			e.publish(Event{Kind: EventStream, Room: room})
		}
	}()
}

func (e *Engine) stopHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelHistory != nil {
		e.cancelHistory()
		e.cancelHistory = nil
	}
	e.historyFor = ref.RoomID{}
}
