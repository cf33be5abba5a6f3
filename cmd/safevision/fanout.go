// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/safevision/internal/channel"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/relay"
)

// alertSink receives each live alert.
type alertSink interface {
	Merge(ev models.AlertEvent) bool
}

// alertBroadcaster pushes alerts to dashboard clients.
type alertBroadcaster interface {
	BroadcastAlert(ev models.AlertEvent)
}

// alertFanout copies live alerts into the history store and out to
// dashboard clients.
type alertFanout struct {
	source relay.Source
	sink   alertSink
	hub    alertBroadcaster
}

func (f *alertFanout) RunWithContext(ctx context.Context) error {
	w, err := f.source()
	if err != nil {
		return fmt.Errorf("open alert watcher: %w", err)
	}
	defer w.Close()

	log := logging.Ctx(ctx).With().Str("component", "alert-fanout").Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events():
			if !ok {
				return channel.ErrClosed
			}
			added := f.sink.Merge(ev)
			f.hub.BroadcastAlert(ev)
			log.Debug().Str("alert_id", ev.ID).Bool("new", added).Msg("alert delivered")
		}
	}
}
