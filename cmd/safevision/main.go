// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package main is the entry point for the SafeVision console.
//
// SafeVision keeps one authenticated session against the SafeVision backends
// and, while it is valid, holds a live alert subscription for the signed-in
// user, arms and disarms the local detection device and keeps the alert
// history view current. A local control API and websocket feed expose that
// state to a dashboard.
//
// # Application Architecture
//
// Components are built in this order:
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, environment)
//  2. Session: token store (BadgerDB or memory), JWT claims parser
//  3. Gateway: HTTP client for the auth, alert and device-agent backends
//  4. Live alert channel: STOMP over websocket subscription per identity
//  5. Arming orchestrator and stream watchdog
//  6. History store
//  7. Dashboard websocket hub and control API
//  8. NATS alert relay (optional)
//
// Long-running parts run under a suture supervisor tree:
//
//	safevision
//	├── push-layer    live alert channel, alert fan-out, NATS relay
//	├── device-layer  stream watchdog
//	└── api-layer     websocket hub, control API
//
// # Configuration
//
// Settings come from config.yaml (or CONFIG_PATH) and environment variables,
// for example:
//
//	AUTH_URL=https://auth.example.com
//	ALERT_URL=https://alerts.example.com
//	AGENT_URL=http://127.0.0.1:5000
//	PUSH_URL=wss://alerts.example.com/ws
//	SESSION_TOKEN_STORE=badger
//	RELAY_ENABLED=true NATS_URL=nats://127.0.0.1:4222
//
// Changes to the config file are picked up at runtime for logging and the
// relay. Everything else needs a restart.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The supervisor stops every
// service, the HTTP server drains in-flight requests and the token store is
// closed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/safevision/internal/api"
	"github.com/tomtom215/safevision/internal/arming"
	"github.com/tomtom215/safevision/internal/channel"
	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/gateway"
	"github.com/tomtom215/safevision/internal/history"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/notify"
	"github.com/tomtom215/safevision/internal/relay"
	"github.com/tomtom215/safevision/internal/session"
	"github.com/tomtom215/safevision/internal/supervisor"
	"github.com/tomtom215/safevision/internal/supervisor/services"
	ws "github.com/tomtom215/safevision/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	initLogging(cfg)

	logging.Info().
		Str("auth_url", cfg.Auth.URL).
		Str("push_url", cfg.Push.URL).
		Str("agent_url", cfg.Agent.URL).
		Msg("Starting SafeVision")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === SESSION ===

	var store session.TokenStore
	switch cfg.Session.TokenStore {
	case "badger":
		bs, err := session.OpenBadgerStore(cfg.Session.TokenStorePath)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Session.TokenStorePath).Msg("Failed to open token store")
		}
		defer func() {
			if err := bs.Close(); err != nil {
				logging.Error().Err(err).Msg("Failed to close token store")
			}
		}()
		store = bs
	default:
		store = session.NewMemoryStore()
	}

	notifier := notify.New(0)
	sess := session.NewManager(session.Options{
		Store:       store,
		Parser:      session.NewTokenParser(cfg.Session.JWTSecret),
		Navigator:   session.NavigatorFunc(toLogin),
		Notifier:    notifier,
		Interactive: cfg.Session.Interactive,
	})

	gw := gateway.New(gateway.OptionsFromConfig(cfg), sess, sess)
	sess.SetBackend(gw)

	// === LIVE ALERTS, DEVICE, HISTORY ===

	chOpts := channel.OptionsFromConfig(cfg.Push)
	chOpts.OnAuthRejected = sess.HandleAuthExpired
	ch := channel.New(chOpts, sess)

	orch := arming.New(gw, sess, notifier)
	watchdog := arming.NewStreamWatchdog(orch, gw, cfg.Agent.StreamProbeInterval, cfg.Agent.StreamProbeTimeout)

	hist := history.New(history.OptionsFromConfig(cfg.History), gw, sess, notifier)
	defer hist.Dispose()

	hub := ws.NewHub()

	// Logout tears the channel down first so no message arrives for an
	// identity that is being cleared.
	sess.AddLogoutHook(ch.Disconnect)
	sess.AddLogoutHook(orch.Reset)
	sess.AddLogoutHook(hist.Reset)

	sess.OnChange(func(c session.Change) {
		ch.Resync()
		switch c.Kind {
		case session.ChangeEstablished:
			go loadHistory(ctx, hist)
		case session.ChangeInvalidated:
			orch.Reset(ctx)
			hist.Reset(ctx)
		}
		hub.BroadcastJSON(ws.MessageTypeSession, api.NewSessionEvent(c))
	})
	orch.OnChange(func(s arming.Snapshot) {
		hub.BroadcastJSON(ws.MessageTypeArming, s)
	})
	notifier.Subscribe(func(n notify.Notice) {
		hub.BroadcastJSON(ws.MessageTypeNotice, n)
	})
	ch.OnStatus(func(s channel.Subscription) {
		hub.BroadcastJSON(ws.MessageTypeChannelStatus, s)
	})

	// === CONTROL API ===

	handler := api.NewHandler(api.Deps{
		Sessions: sess,
		Arming:   orch,
		History:  hist,
		Notices:  notifier,
		Channel:  ch,
		Breakers: gw,
		Hub:      hub,
	})
	router := api.NewRouter(handler, api.ChiMiddlewareConfigFromServer(cfg.Server))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	// === SUPERVISOR TREE ===

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	watchAlerts := func() (relay.Watcher, error) { return ch.WatchAlerts() }

	tree.AddPushService(services.NewRunnerService("live-alert-channel", services.RunFunc(ch.Run), channel.ErrClosed))
	tree.AddPushService(services.NewRunnerService("alert-fanout",
		&alertFanout{source: watchAlerts, sink: hist, hub: hub}, channel.ErrClosed))

	relays := newRelaySwitch(tree, watchAlerts, sess)
	if err := relays.Apply(cfg.Relay); err != nil {
		logging.Error().Err(err).Msg("Failed to start alert relay")
	}
	defer relays.Stop()

	tree.AddDeviceService(services.NewRunnerService("stream-watchdog", watchdog))

	tree.AddAPIService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	if path := config.FilePath(); path != "" {
		if err := config.WatchConfigFile(path, func() { reloadConfig(relays) }); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
		}
	}

	// === RESTORE SESSION ===

	restoreCtx, restoreCancel := context.WithTimeout(ctx, cfg.Gateway.Timeout)
	if s, err := sess.RestoreFromStorage(restoreCtx); err != nil {
		logging.Warn().Err(err).Msg("Stored session could not be restored")
	} else if s == nil {
		logging.Info().Msg("No stored session, waiting for sign-in")
	}
	restoreCancel()

	// === START ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if err := ch.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close live alert channel")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
}

// toLogin is where a headless console "navigates" when the session ends.
func toLogin(reason string) {
	logging.Info().Str("reason", reason).Msg("Sign-in required")
}

// loadHistory fetches the recent list and first history page for a new session.
func loadHistory(ctx context.Context, hist *history.Store) {
	if _, err := hist.GetRecent(ctx); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("initial recent alerts load failed")
	}
	if err := hist.Refresh(); err != nil && !errors.Is(err, history.ErrDisposed) {
		logging.Ctx(ctx).Debug().Err(err).Msg("initial history load failed")
	}
}

// reloadConfig applies the settings that can change without a restart.
func reloadConfig(relays *relaySwitch) {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Config reload rejected")
		return
	}
	initLogging(cfg)
	if err := relays.Apply(cfg.Relay); err != nil {
		logging.Error().Err(err).Msg("Failed to apply relay settings")
	}
	logging.Info().Msg("Configuration reloaded")
}
