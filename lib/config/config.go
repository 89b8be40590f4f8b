// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment names the deployment the client talks to.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete client configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	Server     ServerConfig     `yaml:"server" json:"server"`
	Connection ConnectionConfig `yaml:"connection" json:"connection"`
	Send       SendConfig       `yaml:"send" json:"send"`
	Log        LogConfig        `yaml:"log" json:"log"`

	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// Overrides holds per-environment replacements. Only non-zero fields
// take effect.
type Overrides struct {
	Server     *ServerConfig     `yaml:"server,omitempty" json:"server,omitempty"`
	Connection *ConnectionConfig `yaml:"connection,omitempty" json:"connection,omitempty"`
	Send       *SendConfig       `yaml:"send,omitempty" json:"send,omitempty"`
	Log        *LogConfig        `yaml:"log,omitempty" json:"log,omitempty"`
}

// ServerConfig locates the helpdesk backend.
type ServerConfig struct {
	// BaseURL is the REST root, e.g. "https://helpdesk.example.org".
	// The WebSocket URL is derived from it.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// WebSocketPath is appended to BaseURL for the real-time channel.
	WebSocketPath string `yaml:"websocket_path" json:"websocket_path"`

	// Encoding is the wire encoding: "json" or "cbor".
	Encoding string `yaml:"encoding" json:"encoding"`

	// Compression enables permessage-deflate on the WebSocket.
	Compression bool `yaml:"compression" json:"compression"`
}

// ConnectionConfig tunes the connection lifecycle.
type ConnectionConfig struct {
	// MaxAttempts is the retry budget before the connection is
	// reported as failed.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialBackoff is the delay before the first retry. Retry n
	// waits n*InitialBackoff, capped at MaxBackoff.
	InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff" json:"max_backoff"`

	HandshakeTimeout Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	PingInterval     Duration `yaml:"ping_interval" json:"ping_interval"`

	// JoinTimeout bounds how long a room join may wait for its
	// snapshot before the next join can be issued.
	JoinTimeout Duration `yaml:"join_timeout" json:"join_timeout"`
}

// SendConfig tunes optimistic sending.
type SendConfig struct {
	// Timeout resolves a send with no acknowledgement as failed.
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// MatchWindow is how long after submission a pushed message with
	// the same sender and content is taken as the echo of a local
	// placeholder.
	MatchWindow Duration `yaml:"match_window" json:"match_window"`

	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
}

// LogConfig selects log verbosity and format.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is text, json, or auto (text on a terminal).
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			BaseURL:       "http://localhost:8420",
			WebSocketPath: "/ws",
			Encoding:      "json",
		},
		Connection: ConnectionConfig{
			MaxAttempts:      5,
			InitialBackoff:   Duration(time.Second),
			MaxBackoff:       Duration(5 * time.Second),
			HandshakeTimeout: Duration(10 * time.Second),
			PingInterval:     Duration(25 * time.Second),
			JoinTimeout:      Duration(10 * time.Second),
		},
		Send: SendConfig{
			Timeout:       Duration(10 * time.Second),
			MatchWindow:   Duration(30 * time.Second),
			RatePerSecond: 5,
			Burst:         10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by DESKLINE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("DESKLINE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("DESKLINE_CONFIG environment variable not set; " +
			"set it to the path of your deskline config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads path over Default and applies the matching
// environment section.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: %s: unsupported extension (want .yaml, .yml, .json, or .jsonc)", path)
	}

	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if server := overrides.Server; server != nil {
		setString(&c.Server.BaseURL, server.BaseURL)
		setString(&c.Server.WebSocketPath, server.WebSocketPath)
		setString(&c.Server.Encoding, server.Encoding)
		if server.Compression {
			c.Server.Compression = true
		}
	}
	if connection := overrides.Connection; connection != nil {
		if connection.MaxAttempts != 0 {
			c.Connection.MaxAttempts = connection.MaxAttempts
		}
		setDuration(&c.Connection.InitialBackoff, connection.InitialBackoff)
		setDuration(&c.Connection.MaxBackoff, connection.MaxBackoff)
		setDuration(&c.Connection.HandshakeTimeout, connection.HandshakeTimeout)
		setDuration(&c.Connection.PingInterval, connection.PingInterval)
		setDuration(&c.Connection.JoinTimeout, connection.JoinTimeout)
	}
	if send := overrides.Send; send != nil {
		setDuration(&c.Send.Timeout, send.Timeout)
		setDuration(&c.Send.MatchWindow, send.MatchWindow)
		if send.RatePerSecond != 0 {
			c.Send.RatePerSecond = send.RatePerSecond
		}
		if send.Burst != 0 {
			c.Send.Burst = send.Burst
		}
	}
	if log := overrides.Log; log != nil {
		setString(&c.Log.Level, log.Level)
		setString(&c.Log.Format, log.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *Duration, value Duration) {
	if value != 0 {
		*target = value
	}
}

// WebSocketURL derives the real-time endpoint from BaseURL: http
// becomes ws, https becomes wss.
func (s ServerConfig) WebSocketURL() (string, error) {
	parsed, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("config: invalid server.base_url %q: %w", s.BaseURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("config: server.base_url %q must use http or https", s.BaseURL)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + s.WebSocketPath
	return parsed.String(), nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Server.BaseURL == "" {
		errs = append(errs, fmt.Errorf("server.base_url is required"))
	} else if _, err := c.Server.WebSocketURL(); err != nil {
		errs = append(errs, err)
	}
	if !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		errs = append(errs, fmt.Errorf("server.websocket_path must start with '/'"))
	}
	if c.Server.Encoding != "json" && c.Server.Encoding != "cbor" {
		errs = append(errs, fmt.Errorf("server.encoding must be json or cbor, got %q", c.Server.Encoding))
	}

	if c.Connection.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("connection.max_attempts must be at least 1"))
	}
	if c.Connection.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("connection.initial_backoff must be positive"))
	}
	if c.Connection.MaxBackoff < c.Connection.InitialBackoff {
		errs = append(errs, fmt.Errorf("connection.max_backoff must not be below initial_backoff"))
	}
	if c.Connection.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connection.handshake_timeout must be positive"))
	}
	if c.Connection.JoinTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connection.join_timeout must be positive"))
	}

	if c.Send.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("send.timeout must be positive"))
	}
	if c.Send.MatchWindow < c.Send.Timeout {
		errs = append(errs, fmt.Errorf("send.match_window must not be below send.timeout"))
	}
	if c.Send.RatePerSecond < 0 || c.Send.Burst < 0 {
		errs = append(errs, fmt.Errorf("send.rate_per_second and send.burst must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json, or auto, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
