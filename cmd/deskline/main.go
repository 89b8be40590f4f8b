// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Deskline is the terminal chat client for the helpdesk. It connects to
// the real-time service, joins a ticket conversation or forum room, and
// shows the live message stream with optimistic sends.
//
// Usage:
//
//	deskline --user agent-1 --room ticket/T-100
//	deskline --config ~/.config/deskline.yaml --token-file ~/.deskline-token
//
// Without --token-file the access token is read from the terminal with
// echo disabled.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/deskline/deskline/lib/chatui"
	"github.com/deskline/deskline/lib/config"
	"github.com/deskline/deskline/lib/process"
	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/tui"
	"github.com/deskline/deskline/lib/version"
	"github.com/deskline/deskline/livesync"
	"github.com/deskline/deskline/messaging"
	"github.com/deskline/deskline/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	serverURL   string
	user        string
	displayName string
	role        string
	tokenFile   string
	room        string
	logFile     string
	showVersion bool
}

func parseOptions(args []string) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("deskline", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "config file (.yaml or .jsonc; default $DESKLINE_CONFIG)")
	flagSet.StringVar(&opts.serverURL, "server", "", "helpdesk base URL, overriding the config file")
	flagSet.StringVar(&opts.user, "user", "", "your user id (required)")
	flagSet.StringVar(&opts.displayName, "display-name", "", "name shown on your messages (default: the user id)")
	flagSet.StringVar(&opts.role, "role", string(messaging.RoleUser), "user, agent, or admin")
	flagSet.StringVar(&opts.tokenFile, "token-file", "", "file holding the access token, or - for stdin")
	flagSet.StringVar(&opts.room, "room", "", "room to join on start, e.g. ticket/T-100 or forum/general")
	flagSet.StringVar(&opts.logFile, "log-file", "", "also write debug logs as JSON to this file")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, process.Usage(err)
	}
	if flagSet.NArg() > 0 {
		return nil, process.Usagef("unexpected argument: %s", flagSet.Arg(0))
	}
	return &opts, nil
}

// loadConfig picks the config source: --config, then DESKLINE_CONFIG,
// then the built-in defaults. --server is applied last.
func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv("DESKLINE_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if opts.serverURL != "" {
		cfg.Server.BaseURL = opts.serverURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// identity validates the identity flags. The token is read separately.
func identity(opts *options) (ref.UserID, string, messaging.Role, ref.RoomID, error) {
	if opts.user == "" {
		return ref.UserID{}, "", "", ref.RoomID{}, process.Usagef("--user is required")
	}
	user, err := ref.ParseUserID(opts.user)
	if err != nil {
		return ref.UserID{}, "", "", ref.RoomID{}, process.Usage(fmt.Errorf("--user: %w", err))
	}
	role, err := messaging.ParseRole(opts.role)
	if err != nil {
		return ref.UserID{}, "", "", ref.RoomID{}, process.Usage(fmt.Errorf("--role: %w", err))
	}
	var room ref.RoomID
	if opts.room != "" {
		if room, err = ref.ParseRoomID(opts.room); err != nil {
			return ref.UserID{}, "", "", ref.RoomID{}, process.Usage(fmt.Errorf("--room: %w", err))
		}
	}
	displayName := opts.displayName
	if displayName == "" {
		displayName = user.String()
	}
	return user, displayName, role, room, nil
}

func run() error {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		version.Print("deskline")
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	user, displayName, role, room, err := identity(opts)
	if err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("deskline needs a terminal on stdout")
	}

	token, err := readToken(opts.tokenFile)
	if err != nil {
		return err
	}
	defer token.Close()

	// The TUI owns the terminal, so records go to the status line and,
	// with --log-file, to a JSON file.
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	tuiHandler := tui.NewLogHandler(max(level, slog.LevelWarn))
	var handler slog.Handler = tuiHandler
	if opts.logFile != "" {
		fileHandler, closeFile, err := openFileLogHandler(opts.logFile)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer closeFile()
		handler = fanoutHandler{tuiHandler, fileHandler}
	}
	logger := slog.New(handler)

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	store := messaging.NewCredentialStore()
	unbind := engine.Bind(store)
	defer unbind()
	store.Set(&messaging.Credential{
		UserID:      user,
		DisplayName: displayName,
		Role:        role,
		Token:       token,
	})
	defer store.Clear()

	theme := tui.DetectTheme(termenv.NewOutput(os.Stdout))
	model := chatui.NewModel(chatui.Config{
		Session: engine,
		User:    user,
		Room:    room,
		Theme:   &theme,
	})
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen())
	tuiHandler.SetProgram(program)
	defer tuiHandler.SetProgram(nil)

	logger.Debug("starting",
		"version", version.Info(),
		"server", cfg.Server.BaseURL,
		"user", user,
		"room", room,
	)
	_, err = program.Run()
	return err
}

// newEngine builds the WebSocket dialer, the history client and the
// Engine from cfg.
func newEngine(cfg *config.Config, logger *slog.Logger) (*livesync.Engine, error) {
	websocketURL, err := cfg.Server.WebSocketURL()
	if err != nil {
		return nil, err
	}
	encoding, err := transport.ParseEncoding(cfg.Server.Encoding)
	if err != nil {
		return nil, err
	}
	dialer, err := transport.NewWebSocketDialer(transport.WebSocketConfig{
		URL:              websocketURL,
		Encoding:         encoding,
		Compression:      cfg.Server.Compression,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout.Std(),
		PingInterval:     cfg.Connection.PingInterval.Std(),
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	history, err := messaging.NewClient(messaging.ClientConfig{
		BaseURL: cfg.Server.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return livesync.New(livesync.Config{
		Dialer:         dialer,
		History:        history,
		MaxAttempts:    cfg.Connection.MaxAttempts,
		InitialBackoff: cfg.Connection.InitialBackoff.Std(),
		MaxBackoff:     cfg.Connection.MaxBackoff.Std(),
		JoinTimeout:    cfg.Connection.JoinTimeout.Std(),
		SendTimeout:    cfg.Send.Timeout.Std(),
		MatchWindow:    cfg.Send.MatchWindow.Std(),
		RatePerSecond:  cfg.Send.RatePerSecond,
		Burst:          cfg.Send.Burst,
		Logger:         logger,
	})
}
