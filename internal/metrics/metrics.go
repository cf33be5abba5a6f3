// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package metrics holds the Prometheus instrumentation for SafeVision.
//
// All collectors register on the default registry through promauto and are
// exposed by the control API on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway Metrics
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safevision_gateway_request_duration_seconds",
			Help:    "Duration of outbound backend requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_gateway_requests_total",
			Help: "Total outbound backend requests by result kind",
		},
		[]string{"backend", "operation", "result"}, // result: "ok" or an apperr kind code
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safevision_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_circuit_breaker_requests_total",
			Help: "Total requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Live Alert Channel Metrics
	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safevision_channel_state",
			Help: "Live alert channel state (0=disconnected, 1=connecting, 2=connected, 3=subscribed)",
		},
	)

	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safevision_channel_reconnects_total",
			Help: "Total reconnection attempts of the live alert channel",
		},
	)

	ChannelMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safevision_channel_messages_received_total",
			Help: "Total alert messages received on the live alert channel",
		},
	)

	ChannelMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_channel_messages_dropped_total",
			Help: "Total alert messages dropped by the live alert channel",
		},
		[]string{"reason"}, // "malformed", "duplicate", "stale", "no_watcher"
	)

	ChannelWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safevision_channel_watchers",
			Help: "Current number of active alert watchers",
		},
	)

	// Arming Metrics
	ArmingState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safevision_arming_state",
			Help: "Device arming state (0=disarmed, 1=arming, 2=armed, 3=disarming)",
		},
	)

	ArmingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_arming_transitions_total",
			Help: "Total arming state transitions",
		},
		[]string{"from", "to"},
	)

	StreamLosses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safevision_stream_losses_total",
			Help: "Total live stream losses detected while armed",
		},
	)

	// History Metrics
	Acknowledgements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_acknowledgements_total",
			Help: "Total alert acknowledgements by outcome",
		},
		[]string{"result"}, // "success", "reverted", "skipped"
	)

	HistoryPageLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_history_page_loads_total",
			Help: "Total history page loads by outcome",
		},
		[]string{"result"}, // "applied", "stale", "error"
	)

	// Session Metrics
	SessionInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_session_invalidations_total",
			Help: "Total session invalidations by reason",
		},
		[]string{"reason"},
	)

	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safevision_session_active",
			Help: "1 when a session is established, 0 otherwise",
		},
	)

	// Local Hub Metrics
	HubClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safevision_hub_clients",
			Help: "Current number of local WebSocket clients",
		},
	)

	HubMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safevision_hub_messages_sent_total",
			Help: "Total messages broadcast to local WebSocket clients",
		},
	)

	// Relay Metrics
	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_relay_published_total",
			Help: "Total alerts republished to NATS",
		},
		[]string{"result"},
	)

	// Control API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safevision_api_requests_total",
			Help: "Total local control API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safevision_api_request_duration_seconds",
			Help:    "Local control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordGatewayRequest records one outbound backend call.
// result is "ok" for success, otherwise the error kind code.
func RecordGatewayRequest(backend, operation, result string, duration time.Duration) {
	GatewayRequestDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	GatewayRequestsTotal.WithLabelValues(backend, operation, result).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func RecordBreakerTransition(name, from, to string, toValue float64) {
	CircuitBreakerState.WithLabelValues(name).Set(toValue)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordArmingTransition records an arming state change.
func RecordArmingTransition(from, to string, toValue float64) {
	ArmingState.Set(toValue)
	ArmingTransitions.WithLabelValues(from, to).Inc()
}

// RecordAPIRequest records a control API request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SetSessionActive flips the session gauge.
func SetSessionActive(active bool) {
	if active {
		SessionActive.Set(1)
	} else {
		SessionActive.Set(0)
	}
}
