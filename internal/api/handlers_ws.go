// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/session"
	ws "github.com/tomtom215/safevision/internal/websocket"
)

// SessionEvent is the payload of hub session messages. Session is nil once
// the session has ended.
type SessionEvent struct {
	Kind    string              `json:"kind"`
	Reason  string              `json:"reason,omitempty"`
	Session *models.SessionInfo `json:"session"`
}

// NewSessionEvent converts a session change for the hub.
func NewSessionEvent(c session.Change) SessionEvent {
	ev := SessionEvent{Kind: c.Kind.String(), Reason: c.Reason}
	if c.Current != nil {
		info := c.Current.Info()
		ev.Session = &info
	}
	return ev
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts same-host requests and configured origins.
// Requests without an Origin header come from non-browser clients.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	if h.checkOrigin != nil && h.checkOrigin(origin) {
		return true
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// WebSocket upgrades the connection and registers it with the hub. The new
// client first receives the current session, arming and channel state.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.sendSnapshot(client, sessionFrom(r))
	h.wsHub.Register <- client
	client.Start()
}

func (h *Handler) sendSnapshot(client *ws.Client, s *session.Session) {
	ev := SessionEvent{Kind: session.ChangeEstablished.String()}
	if s != nil {
		info := s.Info()
		ev.Session = &info
	}
	client.Send(ws.Message{Type: ws.MessageTypeSession, Data: ev})
	client.Send(ws.Message{Type: ws.MessageTypeArming, Data: h.arming.Snapshot()})
	if h.channel != nil {
		client.Send(ws.Message{Type: ws.MessageTypeChannelStatus, Data: h.channel.Status()})
	}
}
