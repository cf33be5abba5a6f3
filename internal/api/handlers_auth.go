// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/session"
)

// SessionResponse is the body of login and session requests. The token is
// never exposed.
type SessionResponse struct {
	Session models.SessionInfo `json:"session"`
	Profile *models.Profile    `json:"profile,omitempty"`
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{Session: s.Info(), Profile: s.Profile}
}

// Login authenticates with the auth backend and establishes the session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var creds models.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}

	s, err := h.sessions.Login(r.Context(), creds)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, sessionResponse(s), start)
}

// Register creates an account without logging in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var reg models.Registration
	if !decodeJSON(w, r, &reg) {
		return
	}

	if err := h.sessions.Register(r.Context(), reg); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, map[string]string{"username": reg.Username}, start)
}

// Logout ends the session. Logging out without a session succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.sessions.Logout(r.Context()); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]bool{"logged_out": true}, start)
}

// Session returns the current session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondData(w, http.StatusOK, sessionResponse(sessionFrom(r)), start)
}

// UpdateProfile applies a partial profile update.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var upd models.ProfileUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}

	profile, err := h.sessions.UpdateProfile(r.Context(), upd)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, profile, start)
}
