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
	"github.com/deskline/deskline/lib/secret"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

// Connection is the view of the Manager that the room tracker and the
// send coordinator use: they check state and enqueue frames, never
// touch the lifecycle.
type Connection interface {
	State() State
	Send(ctx context.Context, frame transport.Frame) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Dialer transport.Dialer

	// MaxAttempts is the dial budget: the number of consecutive
	// failed dials after which the Manager gives up. Zero means 5.
	MaxAttempts int

	// InitialBackoff is the delay after the first failure. The delay
	// after failure n is InitialBackoff×n, capped at MaxBackoff.
	// Zero means 1s and 5s respectively.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnFrame receives every inbound frame of the current connection,
	// in order, on the connection's reader goroutine.
	OnFrame func(transport.Frame)

	// OnDecodeError receives malformed inbound messages, which are
	// skipped. If nil they are only logged.
	OnDecodeError func(error)

	// Clock drives the retry timer. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Manager owns the session's single connection. It dials when given a
// usable credential, retries failed dials with linear backoff up to a
// fixed budget, redials after a drop, and tears everything down on
// Disconnect. It is safe for concurrent use.
//
// Connect never blocks on the network: dialing runs on its own
// goroutine and its outcome surfaces as state changes. Each teardown
// bumps a generation counter, so dials and timers started for an
// older connection have no effect when they complete.
type Manager struct {
	config ManagerConfig

	mu         sync.Mutex
	state      State
	credential *messaging.Credential
	generation uint64
	conn       transport.Conn
	failures   int
	lastError  error
	retryTimer *clock.Timer
	cancelDial context.CancelFunc
	changes    notifier[StateChange]

	// writeMu serializes writes to conn; Conn allows one writer.
	writeMu sync.Mutex
}

var _ Connection = (*Manager)(nil)

// NewManager creates a Disconnected manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Dialer == nil {
		return nil, fmt.Errorf("livesync: Dialer is required")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.MaxBackoff < config.InitialBackoff {
		return nil, fmt.Errorf("livesync: MaxBackoff %s is below InitialBackoff %s", config.MaxBackoff, config.InitialBackoff)
	}
	if config.OnFrame == nil {
		config.OnFrame = func(transport.Frame) {}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{config: config}, nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Credential returns the credential of the current session, or nil
// when Disconnected.
func (m *Manager) Credential() *messaging.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential
}

// Subscribe registers callback for state changes. Changes are
// delivered in transition order, one at a time, with no Manager lock
// held; callback may call back into the Manager.
func (m *Manager) Subscribe(callback func(StateChange)) (cancel func()) {
	return m.changes.subscribe(callback)
}

// Connect starts a session for credential. An unusable credential
// (nil, or without an open token) is rejected immediately with an
// error wrapping ErrNotConnected; no dial is attempted, and any
// existing session is torn down since its credential is gone.
//
// Connecting the identity already in use while the Manager is
// connecting, connected or reconnecting only refreshes the stored
// credential. A different identity replaces the session. From
// Disconnected or Failed, Connect starts over with a full budget.
func (m *Manager) Connect(credential *messaging.Credential) error {
	if !credential.Usable() {
		m.Disconnect()
		return fmt.Errorf("%w: credential has no usable token", ErrNotConnected)
	}

	m.mu.Lock()
	if m.state.active() && m.credential.SameIdentity(credential) {
		m.credential = credential
		m.mu.Unlock()
		return nil
	}

	// A Failed session resumed by the same user keeps its room
	// selection; anything else starts from Disconnected.
	resuming := m.state == Failed && m.credential.SameIdentity(credential)
	old := m.teardownLocked()
	if m.state != Disconnected && !resuming {
		m.transitionLocked(Disconnected, nil)
	}
	m.credential = credential
	m.failures = 0
	m.lastError = nil
	m.transitionLocked(Connecting, nil)
	m.startDialLocked()
	m.mu.Unlock()

	closeConn(old)
	m.changes.flush()
	return nil
}

// Disconnect tears down the session: closes the transport, stops any
// retry timer, abandons any dial in flight, and forgets the
// credential.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.teardownLocked()
	m.credential = nil
	if m.state != Disconnected {
		m.transitionLocked(Disconnected, nil)
	}
	m.mu.Unlock()

	closeConn(old)
	m.changes.flush()
}

// Retry restarts dialing with a full budget after Failed. In any other
// state it does nothing.
func (m *Manager) Retry() error {
	m.mu.Lock()
	if m.state != Failed {
		m.mu.Unlock()
		return nil
	}
	if !m.credential.Usable() {
		m.mu.Unlock()
		return fmt.Errorf("%w: credential has no usable token", ErrNotConnected)
	}
	m.failures = 0
	m.transitionLocked(Connecting, nil)
	m.startDialLocked()
	m.mu.Unlock()

	m.changes.flush()
	return nil
}

// AwaitConnected blocks until the Manager is Connected (nil), Failed
// (an error wrapping ErrConnectionFailed), Disconnected
// (ErrNotConnected), or ctx is done.
func (m *Manager) AwaitConnected(ctx context.Context) error {
	outcome := make(chan error, 1)
	report := func(err error) {
		select {
		case outcome <- err:
		default:
		}
	}
	cancel := m.Subscribe(func(change StateChange) {
		switch change.To {
		case Connected:
			report(nil)
		case Failed:
			report(change.Err)
		case Disconnected:
			// A replaced session passes through Disconnected on its
			// way to Connecting; only a settled Disconnected counts.
			if m.State() == Disconnected {
				report(ErrNotConnected)
			}
		}
	})
	defer cancel()

	m.mu.Lock()
	state, lastError := m.state, m.lastError
	m.mu.Unlock()
	switch state {
	case Connected:
		return nil
	case Failed:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, lastError)
	case Disconnected:
		return ErrNotConnected
	}

	select {
	case err := <-outcome:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes frame on the current connection. It returns an error
// wrapping ErrNotConnected unless Connected. A write failure is
// treated as a network drop.
func (m *Manager) Send(ctx context.Context, frame transport.Frame) error {
	m.mu.Lock()
	if m.state != Connected || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot send %s while %s", ErrNotConnected, frame.Type, state)
	}
	conn, generation := m.conn, m.generation
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.Send(ctx, frame)
	m.writeMu.Unlock()
	if err == nil {
		return nil
	}
	if ctx.Err() == nil {
		m.dropped(generation, err)
	}
	return fmt.Errorf("livesync: writing %s frame: %w", frame.Type, err)
}

// teardownLocked invalidates everything belonging to the current
// generation and returns the conn for the caller to close outside mu.
func (m *Manager) teardownLocked() transport.Conn {
	m.generation++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.retryTimer.Stop()
	m.retryTimer = nil
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) transitionLocked(to State, cause error) {
	from := m.state
	m.state = to
	m.changes.enqueue(StateChange{From: from, To: to, Err: cause})
	m.config.Logger.Debug("connection state changed",
		"from", from.String(),
		"to", to.String(),
	)
}

func (m *Manager) startDialLocked() {
	m.generation++
	generation := m.generation
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	token := m.credential.Token

	go m.dial(ctx, generation, token)
}

func (m *Manager) dial(ctx context.Context, generation uint64, token *secret.Buffer) {
	conn, welcomed, err := m.config.Dialer.Dial(ctx, token)

	m.mu.Lock()
	if generation != m.generation {
		m.mu.Unlock()
		closeConn(conn)
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.dialFailedLocked(generation, err)
		m.mu.Unlock()
		m.changes.flush()
		return
	}
	if want := m.credential.UserID; !welcomed.IsZero() && welcomed != want {
		// The token belongs to someone else; retrying cannot help.
		m.failures++
		m.lastError = fmt.Errorf("%w: welcomed as %s, credential is for %s", ErrIdentityMismatch, welcomed, want)
		m.config.Logger.Error("server authenticated a different user",
			"user_id", want.String(),
			"welcomed_user_id", welcomed.String(),
		)
		m.transitionLocked(Failed, fmt.Errorf("%w: %w", ErrConnectionFailed, m.lastError))
		m.mu.Unlock()
		closeConn(conn)
		m.changes.flush()
		return
	}

	m.conn = conn
	m.failures = 0
	m.lastError = nil
	m.transitionLocked(Connected, nil)
	m.mu.Unlock()

	m.config.Logger.Info("connected")
	go m.read(generation, conn)
	m.changes.flush()
}

func (m *Manager) dialFailedLocked(generation uint64, err error) {
	m.failures++
	m.lastError = err
	if m.failures >= m.config.MaxAttempts {
		m.config.Logger.Error("connection failed, giving up",
			"attempts", m.failures,
			"error", err,
		)
		m.transitionLocked(Failed, fmt.Errorf("%w after %d attempts: %v", ErrConnectionFailed, m.failures, err))
		return
	}

	delay := m.backoff(m.failures)
	m.config.Logger.Warn("dial failed, retrying",
		"attempt", m.failures,
		"max_attempts", m.config.MaxAttempts,
		"retry_in", delay,
		"error", err,
	)
	if m.state != Reconnecting {
		m.transitionLocked(Reconnecting, err)
	}
	m.retryTimer = m.config.Clock.AfterFunc(delay, func() { m.retry(generation) })
}

func (m *Manager) retry(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation || m.state != Reconnecting {
		return
	}
	m.retryTimer = nil
	m.startDialLocked()
}

// backoff returns the delay after the given number of failures.
func (m *Manager) backoff(failures int) time.Duration {
	delay := m.config.InitialBackoff * time.Duration(failures)
	if delay > m.config.MaxBackoff {
		delay = m.config.MaxBackoff
	}
	return delay
}

func (m *Manager) read(generation uint64, conn transport.Conn) {
	for {
		frame, err := conn.Receive(context.Background())
		if err != nil {
			var decodeErr *transport.DecodeError
			if errors.As(err, &decodeErr) {
				m.config.Logger.Warn("skipping malformed frame", "error", err)
				if m.config.OnDecodeError != nil {
					m.config.OnDecodeError(err)
				}
				continue
			}
			m.dropped(generation, err)
			return
		}
		if !m.current(generation) {
			return
		}
		m.config.OnFrame(frame)
	}
}

func (m *Manager) current(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return generation == m.generation
}

// dropped handles the loss of an established connection: the budget
// resets and a redial starts at once.
func (m *Manager) dropped(generation uint64, cause error) {
	m.mu.Lock()
	if generation != m.generation || m.state != Connected {
		m.mu.Unlock()
		return
	}
	old := m.conn
	m.conn = nil
	m.failures = 0
	m.config.Logger.Warn("connection dropped, reconnecting", "error", cause)
	m.transitionLocked(Reconnecting, cause)
	m.startDialLocked()
	m.mu.Unlock()

	closeConn(old)
	m.changes.flush()
}

func closeConn(conn transport.Conn) {
	if conn != nil {
		conn.Close()
	}
}
