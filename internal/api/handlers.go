// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"context"
	"time"

	"github.com/tomtom215/safevision/internal/arming"
	"github.com/tomtom215/safevision/internal/channel"
	"github.com/tomtom215/safevision/internal/history"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/notify"
	"github.com/tomtom215/safevision/internal/session"
	ws "github.com/tomtom215/safevision/internal/websocket"
)

// Sessions is the session manager surface used by the API.
type Sessions interface {
	Login(ctx context.Context, creds models.Credentials) (*session.Session, error)
	Register(ctx context.Context, reg models.Registration) error
	Logout(ctx context.Context) error
	Current() *session.Session
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error)
}

// Arming is the arming orchestrator surface used by the API.
type Arming interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	ReloadStream() (string, error)
	Snapshot() arming.Snapshot
}

// History is the alert history store surface used by the API.
type History interface {
	View() history.View
	SetQuery(q models.PageQuery) error
	Refresh() error
	GetRecent(ctx context.Context) ([]models.AlertEvent, error)
	Recent() []models.AlertEvent
	Acknowledge(ctx context.Context, id string) error
}

// Notices lists recent user notices.
type Notices interface {
	Recent() []notify.Notice
}

// ChannelStatus reports the live alert subscription.
type ChannelStatus interface {
	Status() channel.Subscription
}

// BreakerStates reports the gateway circuit breakers.
type BreakerStates interface {
	BreakerStates() map[string]string
}

// Deps are the collaborators of a Handler. Channel, Breakers and Hub may be nil.
type Deps struct {
	Sessions Sessions
	Arming   Arming
	History  History
	Notices  Notices
	Channel  ChannelStatus
	Breakers BreakerStates
	Hub      *ws.Hub
}

// Handler serves the control API.
type Handler struct {
	sessions  Sessions
	arming    Arming
	history   History
	notices   Notices
	channel   ChannelStatus
	breakers  BreakerStates
	wsHub     *ws.Hub
	startTime time.Time

	// checkOrigin validates websocket origins; set by the router from the
	// CORS configuration.
	checkOrigin func(origin string) bool
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		sessions:  d.Sessions,
		arming:    d.Arming,
		history:   d.History,
		notices:   d.Notices,
		channel:   d.Channel,
		breakers:  d.Breakers,
		wsHub:     d.Hub,
		startTime: time.Now(),
	}
}
