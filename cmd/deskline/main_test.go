// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deskline/deskline/lib/process"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/messaging"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"--user", "agent-1", "--room", "ticket/T-9", "--role", "agent"})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.user != "agent-1" || opts.room != "ticket/T-9" || opts.role != "agent" {
		t.Errorf("opts = %+v", opts)
	}

	if _, err := parseOptions([]string{"--user", "a", "extra"}); err == nil {
		t.Error("positional arguments should be rejected")
	}
}

func TestIdentity(t *testing.T) {
	user, displayName, role, room, err := identity(&options{user: "agent-1", role: "agent", room: "forum/general"})
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if user != ref.MustParseUserID("agent-1") || role != messaging.RoleAgent {
		t.Errorf("user %v role %q", user, role)
	}
	if displayName != "agent-1" {
		t.Errorf("displayName = %q, want the user id", displayName)
	}
	if room != ref.MustParseRoomID("forum/general") {
		t.Errorf("room = %v", room)
	}

	tests := []struct {
		name string
		opts options
		want string
	}{
		{"missing user", options{role: "user"}, "--user is required"},
		{"bad user", options{user: "a b", role: "user"}, "--user"},
		{"bad role", options{user: "a", role: "root"}, "--role"},
		{"bad room", options{user: "a", role: "user", room: "lobby"}, "--room"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, _, _, err := identity(&test.opts)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("identity error = %v, want mention of %q", err, test.want)
			}
			if status := process.Status(err); status != process.StatusUsage {
				t.Errorf("exit status = %d, want %d", status, process.StatusUsage)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DESKLINE_CONFIG", "")

	cfg, err := loadConfig(&options{serverURL: "http://relay.test:9000"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.BaseURL != "http://relay.test:9000" {
		t.Errorf("BaseURL = %q, --server not applied", cfg.Server.BaseURL)
	}

	path := filepath.Join(t.TempDir(), "deskline.yaml")
	content := "server:\n  base_url: http://file.test\n  encoding: cbor\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DESKLINE_CONFIG", path)
	cfg, err = loadConfig(&options{})
	if err != nil {
		t.Fatalf("loadConfig from DESKLINE_CONFIG: %v", err)
	}
	if cfg.Server.BaseURL != "http://file.test" || cfg.Server.Encoding != "cbor" {
		t.Errorf("server = %+v", cfg.Server)
	}

	if _, err := loadConfig(&options{configPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("a missing --config file should fail")
	}
}

func TestNewEngine(t *testing.T) {
	t.Setenv("DESKLINE_CONFIG", "")
	cfg, err := loadConfig(&options{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	engine, err := newEngine(cfg, logger)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	engine.Close()

	cfg.Server.Encoding = "msgpack"
	if _, err := newEngine(cfg, logger); err == nil {
		t.Error("an unknown encoding should fail")
	}
}

func TestReadTokenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	token, err := readToken(path)
	if err != nil {
		t.Fatalf("readToken: %v", err)
	}
	defer token.Close()
	if !token.Equal([]byte("s3cret")) {
		t.Error("token was not trimmed")
	}

	if _, err := readToken(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("a missing token file should fail")
	}
}

func TestFanoutHandler(t *testing.T) {
	var warnings, everything bytes.Buffer
	handler := fanoutHandler{
		slog.NewTextHandler(&warnings, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&everything, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled by the second handler")
	}

	logger := slog.New(handler).With("room", "ticket/T-1").WithGroup("send")
	logger.Debug("queued", "local_id", "l1")
	logger.Warn("rejected", "local_id", "l2")

	if strings.Contains(warnings.String(), "queued") {
		t.Errorf("warn handler got a debug record: %s", warnings.String())
	}
	if !strings.Contains(warnings.String(), "send.local_id=l2") || !strings.Contains(warnings.String(), "room=ticket/T-1") {
		t.Errorf("warn output = %q", warnings.String())
	}
	if strings.Count(everything.String(), "\n") != 2 {
		t.Errorf("debug handler output = %q, want two records", everything.String())
	}

	// A record handled once per sink keeps its own attributes.
	record := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	record.AddAttrs(slog.String("code", "E1"))
	if err := handler.Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(everything.String(), "code=E1") {
		t.Errorf("debug handler missing attrs: %q", everything.String())
	}
}
