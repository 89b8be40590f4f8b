// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.InitialBackoff.Std() != time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", cfg.Connection.InitialBackoff)
	}
	if cfg.Send.Timeout.Std() != 10*time.Second {
		t.Errorf("Send.Timeout = %v, want 10s", cfg.Send.Timeout)
	}
	if cfg.Send.MatchWindow.Std() != 30*time.Second {
		t.Errorf("Send.MatchWindow = %v, want 30s", cfg.Send.MatchWindow)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("DESKLINE_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load succeeded without DESKLINE_CONFIG")
	}
	if !strings.Contains(err.Error(), "DESKLINE_CONFIG") {
		t.Errorf("error = %q, want mention of DESKLINE_CONFIG", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "deskline.yaml", `
environment: production
server:
  base_url: https://helpdesk.example.org
  encoding: cbor
connection:
  max_attempts: 3
  initial_backoff: 500ms
send:
  timeout: 8s
production:
  connection:
    max_backoff: 2s
  log:
    format: json
`)
	t.Setenv("DESKLINE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Encoding != "cbor" {
		t.Errorf("Encoding = %q", cfg.Server.Encoding)
	}
	if cfg.Server.WebSocketPath != "/ws" {
		t.Errorf("WebSocketPath = %q, want default /ws", cfg.Server.WebSocketPath)
	}
	if cfg.Connection.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.InitialBackoff.Std() != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v", cfg.Connection.InitialBackoff)
	}
	if cfg.Connection.MaxBackoff.Std() != 2*time.Second {
		t.Errorf("MaxBackoff = %v, want production override 2s", cfg.Connection.MaxBackoff)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want production override", cfg.Log.Format)
	}
	if cfg.Send.Timeout.Std() != 8*time.Second {
		t.Errorf("Send.Timeout = %v", cfg.Send.Timeout)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeConfig(t, "deskline.jsonc", `{
  // staging relay
  "server": {"base_url": "http://127.0.0.1:9000", "compression": true,},
  "send": {"match_window": "45s"},
}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.Server.Compression {
		t.Error("Compression not loaded")
	}
	if cfg.Send.MatchWindow.Std() != 45*time.Second {
		t.Errorf("MatchWindow = %v", cfg.Send.MatchWindow)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Run("unknown extension", func(t *testing.T) {
		path := writeConfig(t, "deskline.toml", "x = 1")
		if _, err := LoadFile(path); err == nil {
			t.Fatal("LoadFile accepted .toml")
		}
	})
	t.Run("bad duration", func(t *testing.T) {
		path := writeConfig(t, "deskline.yaml", "send:\n  timeout: soon\n")
		_, err := LoadFile(path)
		if err == nil || !strings.Contains(err.Error(), "invalid duration") {
			t.Fatalf("LoadFile error = %v, want invalid duration", err)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("LoadFile succeeded on a missing file")
		}
	})
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Connection.MaxAttempts = 0
	cfg.Server.Encoding = "xml"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"max_attempts", "server.encoding", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error missing %q: %v", want, err)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8420", "ws://localhost:8420/ws"},
		{"https://helpdesk.example.org/", "wss://helpdesk.example.org/ws"},
		{"https://helpdesk.example.org/api", "wss://helpdesk.example.org/api/ws"},
	}
	for _, test := range tests {
		got, err := ServerConfig{BaseURL: test.base, WebSocketPath: "/ws"}.WebSocketURL()
		if err != nil {
			t.Errorf("WebSocketURL(%q): %v", test.base, err)
			continue
		}
		if got != test.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", test.base, got, test.want)
		}
	}
	if _, err := (ServerConfig{BaseURL: "ftp://x", WebSocketPath: "/ws"}).WebSocketURL(); err == nil {
		t.Error("WebSocketURL accepted ftp scheme")
	}
}
