// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package supervisor provides process supervision for SafeVision using suture v4.

# Overview

	RootSupervisor ("safevision")
	├── PushSupervisor ("push-layer")
	│   ├── live-alert-channel
	│   └── alert-relay (if relay.enabled)
	├── DeviceSupervisor ("device-layer")
	│   └── stream-watchdog
	└── APISupervisor ("api-layer")
	    ├── websocket-hub
	    └── control-api

Crashed services are restarted with suture's backoff. The channel keeps its
own reconnect loop, so a restart only happens when Run itself fails, not on
every dropped connection.

Supervisor events are logged through sutureslog on the slog bridge of the
logging package:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPushService(services.NewRunnerService("live-alert-channel",
	    services.RunFunc(ch.Run), channel.ErrClosed))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("supervisor stopped")
	}
*/
package supervisor
