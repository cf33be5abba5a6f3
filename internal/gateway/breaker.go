// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package gateway

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
)

// BreakerSettings configure the per-backend circuit breakers.
type BreakerSettings struct {
	MaxRequests  uint32        // requests allowed through in half-open state
	Interval     time.Duration // closed-state count reset period
	Timeout      time.Duration // open-state wait before half-open
	FailureRatio float64       // trip at or above this ratio
	MinRequests  uint32        // minimum requests before the ratio is considered
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  10,
	}
}

// breaker guards one backend. Only transport failures and 5xx responses count
// against it; 4xx answers and cancellations prove the backend is up.
type breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func newBreaker(name string, s BreakerSettings) *breaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			trip := ratio >= s.FailureRatio
			if trip {
				logging.Warn().Str("component", "gateway").Str("breaker", name).
					Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio*100).
					Msg("opening circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("component", "gateway").Str("breaker", name).
				Str("from", stateToString(from)).Str("to", stateToString(to)).
				Msg("circuit state transition")
			metrics.RecordBreakerTransition(name, stateToString(from), stateToString(to), stateToFloat(to))
		},
		IsSuccessful: countsAsSuccess,
	})

	return &breaker{name: name, cb: cb}
}

// execute runs fn under the breaker. Rejections come back as Unreachable.
func (b *breaker) execute(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		logging.Warn().Str("component", "gateway").Str("breaker", b.name).Err(err).Msg("request rejected")
		return &apperr.Error{
			Kind:    apperr.Unreachable,
			Op:      op,
			Message: "service temporarily unavailable, retry shortly",
			Err:     err,
		}
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	return err
}

// State returns the breaker state name.
func (b *breaker) State() string { return stateToString(b.cb.State()) }

func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.Unreachable, apperr.ServerError, apperr.Unknown:
		return false
	default:
		return true
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
