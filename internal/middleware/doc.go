// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package middleware provides HTTP middleware for the local control API.

Key Components:

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request count and latency per route pattern
  - Compression: gzip for large JSON bodies such as history pages

The router applies them in this order:

	r.Use(RequestID)           // outermost, so every log line carries the ID
	r.Use(PrometheusMetrics)
	r.With(Compression).Get("/history", ...)

PrometheusMetrics labels requests with the chi route pattern rather than the
raw path, so alert IDs in URLs do not create new series.

Compression never touches websocket upgrades. The metrics writer implements
Hijack and Unwrap so upgrades and http.ResponseController reach the
underlying connection.
*/
package middleware
