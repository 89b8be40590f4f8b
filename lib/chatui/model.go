// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/tui"
	"github.com/deskline/deskline/livesync"
)

// Session is the messaging core the view drives. *livesync.Engine
// implements it.
type Session interface {
	State() livesync.State
	Selected() ref.RoomID
	Stream() []livesync.Entry
	Pending() []livesync.PendingSend
	SelectRoom(ctx context.Context, room ref.RoomID) error
	DeselectRoom()
	Send(ctx context.Context, content string) (string, error)
	RetrySend(ctx context.Context, localID string) (string, error)
	Discard(localID string) error
	Retry() error
	Subscribe(callback func(livesync.Event)) (cancel func())
}

// actionTimeout bounds a single Session call issued from a key press.
const actionTimeout = 10 * time.Second

// eventBuffer is the depth of the session event queue. Every event is
// handled by re-reading the session, so a dropped event only delays a
// redraw until the next one.
const eventBuffer = 64

// sessionEventMsg wraps a session Event for delivery through the
// bubbletea message loop.
type sessionEventMsg struct {
	event livesync.Event
}

// actionResultMsg reports the outcome of an asynchronous Session call.
type actionResultMsg struct {
	action string
	err    error
}

// statusFadeMsg clears the status line if nothing newer replaced it.
type statusFadeMsg struct {
	sequence int
}

// Config configures a Model.
type Config struct {
	Session Session

	// User is the session's own user id; their messages are
	// highlighted.
	User ref.UserID

	// Room is selected when the program starts. May be zero.
	Room ref.RoomID

	// Theme defaults to tui.DefaultTheme.
	Theme *tui.Theme

	// Keys defaults to DefaultKeyMap.
	Keys *KeyMap
}

// Model is the bubbletea model of the conversation view: a header
// with the room and connection banner, the stream in a scrolling
// viewport, an input line, and a status line.
type Model struct {
	session Session
	user    ref.UserID
	theme   tui.Theme
	keys    KeyMap

	events      chan livesync.Event
	unsubscribe func()
	initialRoom ref.RoomID

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	ready    bool

	state    livesync.State
	room     ref.RoomID
	entries  []livesync.Entry
	failures map[string]error

	status         string
	statusLevel    slog.Level
	statusSequence int
}

// NewModel creates the view and subscribes to the session. Call Close
// after the program exits.
func NewModel(config Config) Model {
	theme := tui.DefaultTheme
	if config.Theme != nil {
		theme = *config.Theme
	}
	keys := DefaultKeyMap
	if config.Keys != nil {
		keys = *config.Keys
	}

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message"
	input.Focus()

	model := Model{
		session:     config.Session,
		user:        config.User,
		theme:       theme,
		keys:        keys,
		events:      make(chan livesync.Event, eventBuffer),
		initialRoom: config.Room,
		input:       input,
		failures:    make(map[string]error),
	}
	events := model.events
	model.unsubscribe = config.Session.Subscribe(func(event livesync.Event) {
		select {
		case events <- event:
		default:
		}
	})
	model.refresh()
	return model
}

// Close stops the session subscription.
func (model Model) Close() {
	if model.unsubscribe != nil {
		model.unsubscribe()
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	commands := []tea.Cmd{listenForEvent(model.events), textinput.Blink}
	if !model.initialRoom.IsZero() {
		commands = append(commands, model.selectRoom(model.initialRoom))
	}
	return tea.Batch(commands...)
}

// listenForEvent blocks until the session publishes an event.
func listenForEvent(channel <-chan livesync.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-channel
		if !ok {
			return nil
		}
		return sessionEventMsg{event: event}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.layout()

	case sessionEventMsg:
		return model.handleEvent(message.event)

	case actionResultMsg:
		if message.err != nil {
			command := model.setStatus(describeFailure(message.action, message.err), slog.LevelError)
			return model, command
		}

	case tui.LogRecordMsg:
		command := model.setStatus(message.Summary, message.Level)
		return model, command

	case statusFadeMsg:
		if message.sequence == model.statusSequence {
			model.status = ""
		}

	default:
		var command tea.Cmd
		model.input, command = model.input.Update(message)
		return model, command
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.Submit):
		text := strings.TrimSpace(model.input.Value())
		if text == "" {
			return model, nil
		}
		model.input.Reset()
		if strings.HasPrefix(text, "/") {
			return model.runCommand(text)
		}
		model.viewport.GotoBottom()
		return model, model.send(text)

	case key.Matches(message, model.keys.Retry):
		return model.retry()

	case key.Matches(message, model.keys.Discard):
		localID := model.latestFailed()
		if localID == "" {
			command := model.setStatus("no failed send to discard", slog.LevelInfo)
			return model, command
		}
		if err := model.session.Discard(localID); err != nil {
			command := model.setStatus(describeFailure("discard", err), slog.LevelError)
			return model, command
		}
		model.refresh()
		return model, nil

	case key.Matches(message, model.keys.PageUp):
		model.viewport.SetYOffset(model.viewport.YOffset - model.viewport.Height/2)
		return model, nil

	case key.Matches(message, model.keys.PageDown):
		model.viewport.SetYOffset(model.viewport.YOffset + model.viewport.Height/2)
		return model, nil

	case key.Matches(message, model.keys.Bottom):
		model.viewport.GotoBottom()
		return model, nil
	}

	var command tea.Cmd
	model.input, command = model.input.Update(message)
	return model, command
}

// runCommand handles slash commands typed into the input line.
func (model Model) runCommand(text string) (tea.Model, tea.Cmd) {
	name, argument, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	argument = strings.TrimSpace(argument)
	switch name {
	case "join":
		room, err := ref.ParseRoomID(argument)
		if err != nil {
			command := model.setStatus("usage: /join ticket/<id> or /join forum/<id>", slog.LevelWarn)
			return model, command
		}
		return model, model.selectRoom(room)
	case "leave":
		model.session.DeselectRoom()
		model.refresh()
		return model, nil
	case "quit":
		return model, tea.Quit
	}
	command := model.setStatus(fmt.Sprintf("unknown command /%s", name), slog.LevelWarn)
	return model, command
}

// retry reconnects a failed session, or resends the latest failed
// send when the connection is fine.
func (model Model) retry() (tea.Model, tea.Cmd) {
	switch model.session.State() {
	case livesync.Failed, livesync.Disconnected:
		session := model.session
		return model, func() tea.Msg {
			return actionResultMsg{action: "reconnect", err: session.Retry()}
		}
	}
	localID := model.latestFailed()
	if localID == "" {
		command := model.setStatus("nothing to retry", slog.LevelInfo)
		return model, command
	}
	session := model.session
	return model, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_, err := session.RetrySend(ctx, localID)
		return actionResultMsg{action: "retry", err: err}
	}
}

func (model Model) send(content string) tea.Cmd {
	session := model.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_, err := session.Send(ctx, content)
		return actionResultMsg{action: "send", err: err}
	}
}

func (model Model) selectRoom(room ref.RoomID) tea.Cmd {
	session := model.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := session.SelectRoom(ctx, room)
		// A selection made while offline is joined on connect.
		if errors.Is(err, livesync.ErrNotConnected) {
			err = nil
		}
		return actionResultMsg{action: "join " + room.String(), err: err}
	}
}

func (model Model) handleEvent(event livesync.Event) (tea.Model, tea.Cmd) {
	model.refresh()
	next := listenForEvent(model.events)

	var status tea.Cmd
	switch event.Kind {
	case livesync.EventState:
		if event.State == livesync.Failed {
			status = model.setStatus(describeFailure("connection", event.Err)+"; "+model.keys.Retry.Help().Key+" to retry", slog.LevelError)
		}
	case livesync.EventSend:
		if event.Send.Status == livesync.SendFailed {
			status = model.setStatus(describeFailure("send", event.Send.Err), slog.LevelWarn)
		}
	case livesync.EventTransportError:
		status = model.setStatus(describeFailure("server", event.Err), slog.LevelWarn)
	case livesync.EventHistoryError:
		status = model.setStatus(describeFailure("history", event.Err), slog.LevelWarn)
	}
	return model, tea.Batch(next, status)
}

// setStatus shows text in the status line and schedules its fade.
func (model *Model) setStatus(text string, level slog.Level) tea.Cmd {
	model.statusSequence++
	model.status = text
	model.statusLevel = level
	sequence := model.statusSequence
	return tea.Tick(tui.LogRecordFadeDelay, func(time.Time) tea.Msg {
		return statusFadeMsg{sequence: sequence}
	})
}

// refresh re-reads the session and re-renders the stream, keeping the
// viewport pinned to the bottom when it was already there.
func (model *Model) refresh() {
	model.state = model.session.State()
	model.room = model.session.Selected()
	model.entries = model.session.Stream()
	clear(model.failures)
	for _, send := range model.session.Pending() {
		if send.Status == livesync.SendFailed {
			model.failures[send.LocalID] = send.Err
		}
	}
	if !model.ready {
		return
	}
	pinned := model.viewport.AtBottom()
	model.viewport.SetContent(model.renderStream(model.viewport.Width))
	if pinned {
		model.viewport.GotoBottom()
	}
}

// latestFailed returns the local id of the newest failed send in the
// stream, or "".
func (model Model) latestFailed() string {
	for index := len(model.entries) - 1; index >= 0; index-- {
		if model.entries[index].Status == livesync.EntryFailed {
			return model.entries[index].LocalID
		}
	}
	return ""
}

// layout sizes the viewport and input from the window.
func (model *Model) layout() {
	// Header, input line and status line take one row each; the
	// scrollbar takes one column.
	model.viewport.Width = max(1, model.width-1)
	model.viewport.Height = max(1, model.height-3)
	model.input.Width = max(1, model.width-len(model.input.Prompt)-1)
	model.viewport.SetContent(model.renderStream(model.viewport.Width))
	model.viewport.GotoBottom()
}

func describeFailure(action string, err error) string {
	if err == nil {
		return action + " failed"
	}
	return action + ": " + err.Error()
}
