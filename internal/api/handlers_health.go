// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"net/http"
	"time"
)

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status        string            `json:"status"`
	Uptime        float64           `json:"uptime_seconds"`
	SessionActive bool              `json:"session_active"`
	Channel       string            `json:"channel,omitempty"`
	Topic         string            `json:"topic,omitempty"`
	Arming        string            `json:"arming"`
	Breakers      map[string]string `json:"breakers,omitempty"`
	WSClients     int               `json:"ws_clients"`
}

// Health reports component status. It is "degraded" while any gateway
// breaker is open and "healthy" otherwise; a logged-out client is healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := HealthResponse{
		Status:        "healthy",
		Uptime:        time.Since(h.startTime).Seconds(),
		SessionActive: h.sessions.Current() != nil,
		Arming:        h.arming.Snapshot().StateName,
	}
	if h.channel != nil {
		sub := h.channel.Status()
		resp.Channel, resp.Topic = sub.State, sub.Topic
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.BreakerStates()
		for _, state := range resp.Breakers {
			if state == "open" {
				resp.Status = "degraded"
			}
		}
	}
	if h.wsHub != nil {
		resp.WSClients = h.wsHub.GetClientCount()
	}
	respondData(w, http.StatusOK, resp, start)
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, time.Now())
}
