// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/deskline/deskline/lib/clock"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
)

// DefaultReadLimit bounds a single inbound message. Snapshots are the
// largest frames; 4MB holds several thousand messages.
const DefaultReadLimit int64 = 4 << 20

// WebSocketConfig configures a WebSocketDialer.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	Encoding Encoding

	// Compression enables permessage-deflate.
	Compression bool

	// HandshakeTimeout bounds the WebSocket upgrade plus the
	// hello/welcome exchange. Zero means 10s.
	HandshakeTimeout time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// ReadLimit bounds inbound messages. Zero uses DefaultReadLimit.
	ReadLimit int64

	// HTTPClient performs the upgrade request. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// Clock drives the ping loop. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// WebSocketDialer dials the relay over WebSocket.
type WebSocketDialer struct {
	config WebSocketConfig
}

var _ Dialer = (*WebSocketDialer)(nil)

// NewWebSocketDialer validates config and fills defaults.
func NewWebSocketDialer(config WebSocketConfig) (*WebSocketDialer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("transport: WebSocket URL is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &WebSocketDialer{config: config}, nil
}

// Dial opens a WebSocket, negotiates the encoding subprotocol and
// performs the handshake, returning the welcomed user. On any failure
// the socket is closed.
func (d *WebSocketDialer) Dial(ctx context.Context, token *secret.Buffer) (Conn, ref.UserID, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, d.config.HandshakeTimeout)
	defer cancel()

	compression := websocket.CompressionDisabled
	if d.config.Compression {
		compression = websocket.CompressionContextTakeover
	}

	ws, _, err := websocket.Dial(handshakeCtx, d.config.URL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient:      d.config.HTTPClient,
		Subprotocols:    []string{d.config.Encoding.Subprotocol()},
		CompressionMode: compression,
	})
	if err != nil {
		return nil, ref.UserID{}, fmt.Errorf("transport: dialing %s: %w", d.config.URL, err)
	}

	if got := ws.Subprotocol(); got != d.config.Encoding.Subprotocol() {
		ws.Close(websocket.StatusProtocolError, "subprotocol not negotiated")
		return nil, ref.UserID{}, fmt.Errorf("transport: server negotiated subprotocol %q, want %q", got, d.config.Encoding.Subprotocol())
	}
	ws.SetReadLimit(d.config.ReadLimit)

	conn := newWebSocketConn(ws, d.config.Encoding)
	user, err := Handshake(handshakeCtx, conn, token)
	if err != nil {
		ws.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, ref.UserID{}, err
	}

	d.config.Logger.Debug("websocket connected",
		"url", d.config.URL,
		"encoding", d.config.Encoding.String(),
		"user_id", user.String(),
	)

	if d.config.PingInterval > 0 {
		go conn.keepalive(d.config.Clock, d.config.PingInterval, d.config.Logger)
	}
	return conn, user, nil
}

// AcceptConfig configures Accept.
type AcceptConfig struct {
	Compression bool
	ReadLimit   int64
	// OriginPatterns lists additional allowed browser origins.
	OriginPatterns []string
}

// Accept upgrades an HTTP request to a protocol connection. The
// handshake is left to the caller (see AcceptHandshake).
func Accept(writer http.ResponseWriter, request *http.Request, config AcceptConfig) (*WebSocketConn, error) {
	compression := websocket.CompressionDisabled
	if config.Compression {
		compression = websocket.CompressionContextTakeover
	}
	ws, err := websocket.Accept(writer, request, &websocket.AcceptOptions{
		Subprotocols:    []string{SubprotocolJSON, SubprotocolCBOR},
		CompressionMode: compression,
		OriginPatterns:  config.OriginPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: accepting websocket: %w", err)
	}
	encoding, err := EncodingForSubprotocol(ws.Subprotocol())
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "unsupported subprotocol")
		return nil, err
	}
	readLimit := config.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	ws.SetReadLimit(readLimit)
	return newWebSocketConn(ws, encoding), nil
}

// WebSocketConn is a Conn over a coder/websocket connection.
type WebSocketConn struct {
	ws       *websocket.Conn
	encoding Encoding

	closeOnce sync.Once
	done      chan struct{}
}

var _ Conn = (*WebSocketConn)(nil)

func newWebSocketConn(ws *websocket.Conn, encoding Encoding) *WebSocketConn {
	return &WebSocketConn{ws: ws, encoding: encoding, done: make(chan struct{})}
}

// Encoding returns the negotiated encoding.
func (c *WebSocketConn) Encoding() Encoding { return c.encoding }

func (c *WebSocketConn) Send(ctx context.Context, frame Frame) error {
	data, err := c.encoding.Marshal(frame)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, c.encoding.MessageType(), data); err != nil {
		return c.translate(err)
	}
	return nil
}

func (c *WebSocketConn) Receive(ctx context.Context) (Frame, error) {
	messageType, data, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, c.translate(err)
	}
	if messageType != c.encoding.MessageType() {
		return Frame{}, &DecodeError{Err: fmt.Errorf("transport: %s connection received message type %v", c.encoding, messageType)}
	}
	return c.encoding.Unmarshal(data)
}

// Close performs the WebSocket closing handshake.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close(websocket.StatusNormalClosure, "")
	})
	if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

func (c *WebSocketConn) translate(err error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if status := websocket.CloseStatus(err); status != -1 {
		return fmt.Errorf("%w: peer closed with status %d", ErrClosed, status)
	}
	return err
}

// keepalive pings every interval until the conn closes. A failed ping
// closes the socket so the reader sees the drop. Ping waits for the
// pong, which requires a concurrent Receive.
func (c *WebSocketConn) keepalive(timeSource clock.Clock, interval time.Duration, logger *slog.Logger) {
	// Each timer fires at most once and is drained before the next is
	// armed, so one slot never blocks the callback.
	due := make(chan struct{}, 1)
	for {
		timer := timeSource.AfterFunc(interval, func() { due <- struct{}{} })
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-due:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := c.ws.Ping(ctx)
		cancel()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !errors.Is(err, context.Canceled) {
				logger.Warn("websocket keepalive failed", "error", err)
			}
			c.ws.CloseNow()
			return
		}
	}
}
