// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command circlebridge bridges one logged-in WhatsApp session to a circle
// automation backend. Inbound group messages from bound groups are posted
// to the backend's webhook; the backend drives joins, leaves, and sends
// through the command HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/aiku/circlebridge/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:          "circlebridge",
		Short:        "Bridge a WhatsApp session to a circle automation backend",
		Version:      fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return err
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup error:", err)
		return err
	}

	container, err := sqlstore.New("sqlite3", cfg.StorePath, waLog.Zerolog(log.With().Str("component", "sqlstore").Logger()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open credential store")
		return err
	}

	registry := bridge.NewRegistry()
	sink := bridge.NewHTTPSink(cfg.WebhookURL, log)
	relay := bridge.NewRelay(registry, sink, log)
	transport := bridge.NewWhatsmeowTransport(container, log)
	session := bridge.NewSession(transport, relay, cfg.ReconnectDelay, log)
	session.OnPairCode(printPairCode)
	commands := bridge.NewCommands(registry, session, log)
	server := bridge.NewAPIServer(cfg.ListenAddr, commands, log)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting command API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Command API error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	err = session.Run(ctx)
	switch {
	case errors.Is(err, bridge.ErrLoggedOut):
		log.Error().Msg("Session was logged out by WhatsApp. Delete the store database and restart to re-pair.")
		return err
	case errors.Is(err, context.Canceled):
		log.Info().Msg("Shutting down")
		return nil
	default:
		log.Error().Err(err).Msg("Session failed")
		return err
	}
}

func buildLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}
	log := zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
	exzerolog.SetupDefaults(&log)
	return log, nil
}

// printPairCode renders the pairing code as a terminal QR so the operator
// can scan it from WhatsApp's linked-devices screen.
func printPairCode(code string) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to render pairing code:", err)
		return
	}
	fmt.Fprintln(os.Stderr, "Scan this code with WhatsApp (Settings > Linked devices):")
	fmt.Fprint(os.Stderr, qr.ToSmallString(false))
}
