// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package services provides suture.Service wrappers for SafeVision components.

Each wrapper implements suture.Service and fmt.Stringer:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

HTTPServerService wraps the control API *http.Server and shuts it down
gracefully when the context ends.

WebSocketHubService runs the local fan-out hub.

RunnerService runs anything with a RunWithContext method: the live alert
channel (through RunFunc), the stream watchdog and the NATS relay. Errors
listed as terminal, such as channel.ErrClosed, are turned into
suture.ErrDoNotRestart so a deliberately closed component is not restarted.

The wrappers only depend on small interfaces, so this package imports none of
the components it supervises.
*/
package services
