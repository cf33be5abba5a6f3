// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/middleware"
	"github.com/tomtom215/safevision/internal/session"
)

type sessionKey struct{}

// Router builds the control API routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. A nil config uses DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, config *ChiMiddlewareConfig) *Router {
	mw := NewChiMiddleware(config)
	handler.checkOrigin = mw.AllowsOrigin
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi returns the HTTP handler serving every route.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight works
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No such endpoint", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())

		r.Get("/health", router.handler.Health)
		r.Get("/health/live", router.handler.HealthLive)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", router.handler.Login)
			r.Post("/register", router.handler.Register)
			r.Post("/logout", router.handler.Logout)
		})

		// authenticated
		r.Group(func(r chi.Router) {
			r.Use(router.requireSession)

			r.Get("/session", router.handler.Session)
			r.Put("/profile", router.handler.UpdateProfile)

			r.Get("/arming", router.handler.ArmingState)
			r.Post("/arming/arm", router.handler.Arm)
			r.Post("/arming/disarm", router.handler.Disarm)
			r.Post("/arming/reload", router.handler.ReloadStream)

			r.With(middleware.Compression).Get("/history", router.handler.HistoryView)
			r.Put("/history/query", router.handler.SetHistoryQuery)
			r.Post("/history/refresh", router.handler.RefreshHistory)
			r.With(middleware.Compression).Get("/alerts/recent", router.handler.RecentAlerts)
			r.Post("/alerts/{id}/ack", router.handler.AcknowledgeAlert)

			r.Get("/notices", router.handler.Notices)
			r.Get("/ws", router.handler.WebSocket)
		})
	})

	return r
}

// requireSession rejects requests while no session is established and
// stores the session snapshot in the request context.
func (router *Router) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := router.handler.sessions.Current()
		if s == nil {
			respondError(w, http.StatusUnauthorized, apperr.AuthExpired.String(),
				apperr.DefaultMessage(apperr.AuthExpired), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionKey{}).(*session.Session)
	return s
}
