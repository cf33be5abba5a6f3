// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package api provides the local control API used by the SafeVision front end.

The API is a thin surface over the client core. It never talks to the remote
services itself; every call goes through the session manager, the arming
orchestrator or the alert history store, which in turn use the request
gateway.

Routes (all JSON, wrapped in models.APIResponse):

	GET    /api/v1/health            component status and breaker states
	GET    /api/v1/health/live       liveness
	POST   /api/v1/auth/login        log in, returns the session
	POST   /api/v1/auth/register     create an account
	POST   /api/v1/auth/logout       end the session
	GET    /api/v1/session           current session and profile
	PUT    /api/v1/profile           partial profile update
	GET    /api/v1/arming            arming state and stream URL
	POST   /api/v1/arming/arm        arm the device
	POST   /api/v1/arming/disarm     disarm the device
	POST   /api/v1/arming/reload     fresh stream URL
	GET    /api/v1/history           current page view
	PUT    /api/v1/history/query     change page, size or sort (debounced)
	POST   /api/v1/history/refresh   reload the current page
	GET    /api/v1/alerts/recent     merged recent list (?refresh=true reloads)
	POST   /api/v1/alerts/{id}/ack   acknowledge an alert
	GET    /api/v1/notices           recent user notices
	GET    /api/v1/ws                websocket feed of live updates
	GET    /metrics                  Prometheus metrics

Errors carry the apperr kind as code (AUTH_EXPIRED, ACTIVATION_FAILED, ...)
and a user-presentable message. Everything below /api/v1 except health and
the auth endpoints requires an authenticated session.
*/
package api
