// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package relay republishes live alerts to NATS for local consumers such as
// sirens, loggers or home automation.
//
// Each alert is published once to "<prefix>.<identity>" with its ID in the
// Nats-Msg-Id header, so a JetStream stream bound to the subject can drop
// redeliveries.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("relay: closed")

// Watcher is a cancellable alert sequence. Satisfied by *channel.Watcher.
type Watcher interface {
	Events() <-chan models.AlertEvent
	Close()
}

// Source opens a fresh watcher for each run.
type Source func() (Watcher, error)

// IdentitySource yields the current session identity.
type IdentitySource interface {
	Identity() string
}

// Relay publishes alerts to NATS.
type Relay struct {
	nc     *nats.Conn
	prefix string
	source Source
	sess   IdentitySource
}

// Connect dials NATS and returns a relay reading from source.
func Connect(cfg config.RelayConfig, source Source, sess IdentitySource) (*Relay, error) {
	log := logging.With().Str("component", "relay").Logger()
	nc, err := nats.Connect(cfg.URL,
		nats.Name("safevision-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(nc, cfg.SubjectPrefix, source, sess), nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix string, source Source, sess IdentitySource) *Relay {
	return &Relay{nc: nc, prefix: strings.TrimSuffix(prefix, "."), source: source, sess: sess}
}

// Subject returns the subject alerts of identity are published on.
func (r *Relay) Subject(identity string) string {
	return r.prefix + "." + subjectToken(identity)
}

// Publish sends one alert.
func (r *Relay) Publish(identity string, ev models.AlertEvent) error {
	if r.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("encode alert: %w", err)
	}

	msg := nats.NewMsg(r.Subject(identity))
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = data
	if err := r.nc.PublishMsg(msg); err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish alert %s: %w", ev.ID, err)
	}
	metrics.RelayPublished.WithLabelValues("success").Inc()
	return nil
}

// RunWithContext relays alerts until ctx is canceled or the source ends.
func (r *Relay) RunWithContext(ctx context.Context) error {
	log := logging.Ctx(ctx).With().Str("component", "relay").Logger()

	w, err := r.source()
	if err != nil {
		return fmt.Errorf("open alert watcher: %w", err)
	}
	defer w.Close()

	log.Info().Str("prefix", r.prefix).Msg("alert relay started")
	for {
		select {
		case <-ctx.Done():
			_ = r.nc.Flush()
			return ctx.Err()
		case ev, ok := <-w.Events():
			if !ok {
				return ErrClosed
			}
			identity := r.sess.Identity()
			if identity == "" {
				continue
			}
			if err := r.Publish(identity, ev); err != nil {
				log.Warn().Err(err).Str("alert_id", ev.ID).Msg("relay publish failed")
			}
		}
	}
}

// Close drains and closes the NATS connection.
func (r *Relay) Close() error {
	if r.nc.IsClosed() {
		return nil
	}
	return r.nc.Drain()
}

// subjectToken makes s usable as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return c
	}, s)
}
