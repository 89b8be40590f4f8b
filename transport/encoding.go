// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/deskline/deskline/lib/codec"
)

// Encoding is a frame wire encoding.
type Encoding int

const (
	// JSON encodes frames as UTF-8 JSON in text messages.
	JSON Encoding = iota
	// CBOR encodes frames as deterministic CBOR in binary messages.
	CBOR
)

// Subprotocol names.
const (
	SubprotocolJSON = "deskline.v1+json"
	SubprotocolCBOR = "deskline.v1+cbor"
)

// ParseEncoding maps a configuration name ("json" or "cbor") to an
// Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "json", "":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return 0, fmt.Errorf("transport: unknown encoding %q", name)
}

// EncodingForSubprotocol maps a negotiated subprotocol to its
// Encoding. An empty subprotocol is JSON.
func EncodingForSubprotocol(subprotocol string) (Encoding, error) {
	switch subprotocol {
	case SubprotocolJSON, "":
		return JSON, nil
	case SubprotocolCBOR:
		return CBOR, nil
	}
	return 0, fmt.Errorf("transport: unsupported subprotocol %q", subprotocol)
}

func (e Encoding) String() string {
	switch e {
	case JSON:
		return "json"
	case CBOR:
		return "cbor"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Subprotocol returns the WebSocket subprotocol advertising e.
func (e Encoding) Subprotocol() string {
	if e == CBOR {
		return SubprotocolCBOR
	}
	return SubprotocolJSON
}

// MessageType returns the WebSocket message type frames travel in.
func (e Encoding) MessageType() websocket.MessageType {
	if e == CBOR {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

// Marshal encodes frame.
func (e Encoding) Marshal(frame Frame) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if e == CBOR {
		data, err = codec.Marshal(frame)
	} else {
		data, err = json.Marshal(frame)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: encoding %s frame as %s: %w", frame.Type, e, err)
	}
	return data, nil
}

// Unmarshal decodes data into a frame and validates it.
func (e Encoding) Unmarshal(data []byte) (Frame, error) {
	var frame Frame
	var err error
	if e == CBOR {
		err = codec.Unmarshal(data, &frame)
	} else {
		err = json.Unmarshal(data, &frame)
	}
	if err != nil {
		return Frame{}, &DecodeError{Err: fmt.Errorf("transport: decoding %s frame: %w", e, err)}
	}
	if err := frame.Validate(); err != nil {
		return Frame{}, &DecodeError{Err: err}
	}
	return frame, nil
}

// DecodeError reports a message that arrived intact but did not hold a
// valid frame. The connection remains usable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
