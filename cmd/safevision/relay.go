// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package main

import (
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/relay"
	"github.com/tomtom215/safevision/internal/supervisor/services"
)

// pushLayer is the part of the supervisor tree the relay lives in.
type pushLayer interface {
	AddPushService(svc suture.Service) suture.ServiceToken
	RemovePushService(token suture.ServiceToken) error
}

// relaySwitch starts and stops the NATS relay as the config changes.
type relaySwitch struct {
	mu      sync.Mutex
	tree    pushLayer
	source  relay.Source
	sess    relay.IdentitySource
	connect func(config.RelayConfig, relay.Source, relay.IdentitySource) (*relay.Relay, error)

	current config.RelayConfig
	relay   *relay.Relay
	token   suture.ServiceToken
	running bool
}

func newRelaySwitch(tree pushLayer, source relay.Source, sess relay.IdentitySource) *relaySwitch {
	return &relaySwitch{tree: tree, source: source, sess: sess, connect: relay.Connect}
}

// Apply brings the relay in line with cfg. An unchanged config is a no-op.
func (s *relaySwitch) Apply(cfg config.RelayConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running && cfg == s.current {
		return nil
	}
	s.stopLocked()
	s.current = cfg
	if !cfg.Enabled {
		return nil
	}

	r, err := s.connect(cfg, s.source, s.sess)
	if err != nil {
		return err
	}
	s.relay = r
	s.token = s.tree.AddPushService(services.NewRunnerService("alert-relay", r, relay.ErrClosed))
	s.running = true
	logging.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("alert relay enabled")
	return nil
}

// Stop removes the relay from the tree and closes its connection.
func (s *relaySwitch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *relaySwitch) stopLocked() {
	if !s.running {
		return
	}
	if err := s.tree.RemovePushService(s.token); err != nil {
		logging.Warn().Err(err).Msg("failed to remove alert relay")
	}
	if err := s.relay.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close alert relay")
	}
	s.relay = nil
	s.running = false
	logging.Info().Msg("alert relay disabled")
}
