// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// setupHubServer serves the hub the way the control API does.
func setupHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		hub.Register <- client
		client.Start()
	}))
	t.Cleanup(server.Close)
	return server
}

// dialWebSocket establishes a WebSocket connection to the test server
func dialWebSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestNewClient(t *testing.T) {
	hub := NewHub()
	a, b := NewClient(hub, nil), NewClient(hub, nil)

	if a.ID() >= b.ID() {
		t.Errorf("ids not increasing: %d, %d", a.ID(), b.ID())
	}
	if _, err := uuid.Parse(a.SessionID()); err != nil {
		t.Errorf("session id %q: %v", a.SessionID(), err)
	}
	if a.SessionID() == b.SessionID() {
		t.Error("session ids should differ")
	}
	if cap(a.send) != sendBuffer {
		t.Errorf("send capacity = %d", cap(a.send))
	}
}

func TestClient_Constants(t *testing.T) {
	if pingPeriod >= pongWait {
		t.Errorf("pingPeriod %v must be shorter than pongWait %v", pingPeriod, pongWait)
	}
}

func TestClient_ReceivesBroadcast(t *testing.T) {
	hub := setupHub(t)
	server := setupHubServer(t, hub)
	conn := dialWebSocket(t, server)
	waitForCount(t, hub, func(n int) bool { return n == 1 })

	hub.BroadcastJSON(MessageTypeArming, map[string]string{"state": "ARMED"})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeArming {
		t.Errorf("type = %q", msg.Type)
	}
	data, _ := msg.Data.(map[string]interface{})
	if data["state"] != "ARMED" {
		t.Errorf("data = %#v", msg.Data)
	}
}

func TestClient_PingPong(t *testing.T) {
	hub := setupHub(t)
	server := setupHubServer(t, hub)
	conn := dialWebSocket(t, server)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	hub := setupHub(t)
	server := setupHubServer(t, hub)
	conn := dialWebSocket(t, server)
	waitForCount(t, hub, func(n int) bool { return n == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitForCount(t, hub, func(n int) bool { return n == 0 })
}

func TestClient_SendAfterDropIsSafe(t *testing.T) {
	hub := setupHub(t)
	c := createTestClient(hub, 1)
	registerClient(t, hub, c)
	hub.Unregister <- c
	waitForCount(t, hub, func(n int) bool { return n == 0 })

	if c.Send(Message{Type: MessageTypePong}) {
		t.Error("Send on a dropped client should report false")
	}
}
