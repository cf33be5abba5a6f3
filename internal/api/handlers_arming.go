// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"net/http"
	"time"
)

// ArmingState returns the current arming snapshot.
func (h *Handler) ArmingState(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.arming.Snapshot(), time.Now())
}

// Arm activates the device. The response carries the resulting snapshot,
// including the stream URL once armed.
func (h *Handler) Arm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.arming.Arm(r.Context()); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, h.arming.Snapshot(), start)
}

// Disarm deactivates the device.
func (h *Handler) Disarm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.arming.Disarm(r.Context()); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, h.arming.Snapshot(), start)
}

// ReloadStream returns a fresh, cache-busted stream URL.
func (h *Handler) ReloadStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	url, err := h.arming.ReloadStream()
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"stream_url": url}, start)
}
