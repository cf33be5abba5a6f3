// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// HistoryView returns the current page view. The view may be stale or
// loading; clients follow updates on the websocket.
func (h *Handler) HistoryView(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.history.View(), time.Now())
}

// SetHistoryQuery replaces the page query. Fields left out keep their
// current value. The load is debounced, so the response is accepted rather
// than the page itself.
func (h *Handler) SetHistoryQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := h.history.View().Query
	if !decodeJSON(w, r, &q) {
		return
	}

	if err := h.history.SetQuery(q); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusAccepted, h.history.View(), start)
}

// RefreshHistory reloads the current page.
func (h *Handler) RefreshHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.history.Refresh(); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusAccepted, h.history.View(), start)
}

// RecentAlerts returns the recent list. With refresh=true it is reloaded
// from the alert backend first.
func (h *Handler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.URL.Query().Get("refresh") != "true" {
		respondData(w, http.StatusOK, h.history.Recent(), start)
		return
	}

	items, err := h.history.GetRecent(r.Context())
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, items, start)
}

// AcknowledgeAlert acknowledges one alert. Acknowledging an already
// acknowledged alert succeeds.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "alert id is required", nil)
		return
	}

	if err := h.history.Acknowledge(r.Context(), id); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"id": id, "acknowledged": true}, start)
}

// Notices returns the most recent user notices, capped by limit.
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	notices := h.notices.Recent()
	if limit := getIntParam(r, "limit", 0); limit > 0 && limit < len(notices) {
		notices = notices[len(notices)-limit:]
	}
	respondData(w, http.StatusOK, notices, start)
}
