// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/safevision/internal/logging"
)

// Runner is a long-running component. Satisfied by *arming.StreamWatchdog
// and *relay.Relay.
type Runner interface {
	RunWithContext(ctx context.Context) error
}

// RunFunc adapts a function, e.g. (*channel.Channel).Run, to Runner.
type RunFunc func(ctx context.Context) error

// RunWithContext calls f.
func (f RunFunc) RunWithContext(ctx context.Context) error { return f(ctx) }

// RunnerService supervises a Runner.
type RunnerService struct {
	runner   Runner
	name     string
	terminal []error
}

// NewRunnerService wraps runner. When Serve fails with one of terminal the
// supervisor does not restart the service.
func NewRunnerService(name string, runner Runner, terminal ...error) *RunnerService {
	return &RunnerService{runner: runner, name: name, terminal: terminal}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.RunWithContext(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	for _, t := range s.terminal {
		if errors.Is(err, t) {
			logging.Info().Str("component", s.name).Err(err).Msg("service stopped for good")
			return suture.ErrDoNotRestart
		}
	}
	return err
}

// String implements fmt.Stringer for logging.
func (s *RunnerService) String() string {
	return s.name
}
