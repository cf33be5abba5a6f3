// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package arming

import (
	"context"
	"time"

	"github.com/tomtom215/safevision/internal/logging"
)

// Prober checks that a stream URL still serves video.
// Satisfied by *gateway.Client.
type Prober interface {
	ProbeStream(ctx context.Context, streamURL string) error
}

// StreamWatchdog probes the stream while the device is armed and reports a
// loss after consecutive failed probes.
type StreamWatchdog struct {
	orch      *Orchestrator
	prober    Prober
	interval  time.Duration
	timeout   time.Duration
	threshold int
}

// NewStreamWatchdog creates a watchdog. A zero timeout uses the interval.
func NewStreamWatchdog(orch *Orchestrator, prober Prober, interval, timeout time.Duration) *StreamWatchdog {
	if timeout <= 0 {
		timeout = interval
	}
	return &StreamWatchdog{
		orch:      orch,
		prober:    prober,
		interval:  interval,
		timeout:   timeout,
		threshold: 2,
	}
}

// RunWithContext probes until ctx is cancelled. A non-positive interval
// disables probing; the call then just waits for ctx.
func (w *StreamWatchdog) RunWithContext(ctx context.Context) error {
	log := logging.Ctx(ctx).With().Str("component", "stream-watchdog").Logger()
	if w.interval <= 0 {
		log.Debug().Msg("stream watchdog disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var failures int
	var probed string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap := w.orch.Snapshot()
		if snap.State != Armed || snap.StreamURL == "" {
			failures, probed = 0, ""
			continue
		}
		if snap.StreamURL != probed {
			failures, probed = 0, snap.StreamURL
		}

		pctx, cancel := context.WithTimeout(ctx, w.timeout)
		err := w.prober.ProbeStream(pctx, probed)
		cancel()
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		log.Debug().Err(err).Int("failures", failures).Msg("stream probe failed")
		if failures >= w.threshold {
			w.orch.StreamLost(probed)
			failures, probed = 0, ""
		}
	}
}
