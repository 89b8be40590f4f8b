// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Deskline-devserver runs the in-memory helpdesk relay for local
// development. It serves the real-time protocol on /ws and the REST
// history endpoints from one listener.
//
// Without --fixture it accepts two tokens, "agent-token" and
// "user-token", and creates rooms on first use.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/deskline/deskline/internal/devserver"
	"github.com/deskline/deskline/lib/config"
	"github.com/deskline/deskline/lib/process"
	"github.com/deskline/deskline/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		fixturePath   string
		compression   bool
		sendRate      float64
		logLevel      string
		logFormat     string
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("deskline-devserver", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", "localhost:8420", "address to listen on")
	flagSet.StringVar(&fixturePath, "fixture", "", "YAML file listing users, rooms, and seed messages")
	flagSet.BoolVar(&compression, "compression", false, "enable WebSocket permessage-deflate")
	flagSet.Float64Var(&sendRate, "send-rate", 0, "per-connection sends per second (0 uses the relay default)")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.StringVar(&logFormat, "log-format", "auto", "text, json, or auto (text on a terminal)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Usage(err)
	}
	if showVersion {
		version.Print("deskline-devserver")
		return nil
	}
	if flagSet.NArg() > 0 {
		return process.Usagef("unexpected argument: %s", flagSet.Arg(0))
	}

	handler, err := config.LogConfig{Level: logLevel, Format: logFormat}.NewHandler(os.Stderr)
	if err != nil {
		return err
	}
	logger := slog.New(handler)

	setup := defaultFixture()
	if fixturePath != "" {
		if setup, err = loadFixture(fixturePath); err != nil {
			return err
		}
	}

	relay, err := devserver.NewServer(devserver.Config{
		Users:       setup.users,
		Rooms:       setup.rooms,
		SendRate:    sendRate,
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := setup.seed(relay); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddress, err)
	}
	httpServer := &http.Server{
		Handler:           relay,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	logger.Info("relay listening",
		"version", version.Info(),
		"address", listener.Addr().String(),
		"users", len(setup.users),
		"rooms", len(setup.rooms),
		"seeded", len(setup.messages),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("received shutdown signal")

	// WebSocket sessions are hijacked connections that Shutdown does
	// not wait for; close them first.
	relay.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
