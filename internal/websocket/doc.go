// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package websocket fans live console state out to local WebSocket clients.

The hub is the local side of the console: alerts received on the live alert
channel, arming state changes, user notices and channel status are pushed to
every connected client. It uses gorilla/websocket with a hub-client layout.

	┌──────────┐
	│   Hub    │ ← broadcasts to all clients
	└────┬─────┘
	     │
	┌────┴─────┬─────────┬─────────┐
	│ Client1  │ Client2 │ Client3 │
	└──────────┴─────────┴─────────┘

Each client has two goroutines:
  - readPump: reads from the socket, answers application pings
  - writePump: writes queued messages and protocol pings

Message types:

  - alert: a models.AlertEvent received live
  - arming: an arming.Snapshot
  - notice: a notify.Notice
  - channel_status: a channel.Subscription
  - session: a models.SessionInfo, or null after logout
  - ping/pong: application keepalive

Clients that cannot keep up are dropped; a slow browser tab never blocks the
live alert path.

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	conn, _ := upgrader.Upgrade(w, r, nil)
	client := websocket.NewClient(hub, conn)
	hub.Register <- client
	client.Start()

	hub.BroadcastAlert(ev)
*/
package websocket
