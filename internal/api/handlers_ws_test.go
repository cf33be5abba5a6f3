// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/safevision/internal/arming"
	"github.com/tomtom215/safevision/internal/channel"
	"github.com/tomtom215/safevision/internal/history"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/session"
	ws "github.com/tomtom215/safevision/internal/websocket"
)

func startWSServer(t *testing.T, origins []string) (*httptest.Server, *ws.Hub) {
	t.Helper()
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := NewHandler(Deps{
		Sessions: &fakeSessions{current: &session.Session{Identity: "guard01"}},
		Arming:   &fakeArming{snap: arming.Snapshot{State: arming.Armed, StateName: "ARMED"}},
		History:  &fakeHistory{view: history.View{Query: models.DefaultPageQuery()}},
		Notices:  fakeNotices{},
		Channel:  fakeChannel{Status: channel.StatusSubscribed, State: "SUBSCRIBED"},
		Hub:      hub,
	})
	cfg := DefaultChiMiddlewareConfig()
	cfg.CORSAllowedOrigins = origins
	server := httptest.NewServer(NewRouter(h, cfg).SetupChi())
	t.Cleanup(server.Close)
	return server, hub
}

func dial(t *testing.T, server *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readWS(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SnapshotThenBroadcast(t *testing.T) {
	server, hub := startWSServer(t, nil)
	conn, _, err := dial(t, server, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, readWS(t, conn).Type)
	}
	want := []string{ws.MessageTypeSession, ws.MessageTypeArming, ws.MessageTypeChannelStatus}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("snapshot order = %v, want %v", types, want)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.BroadcastAlert(models.AlertEvent{ID: "live-1"})
	msg := readWS(t, conn)
	if msg.Type != ws.MessageTypeAlert {
		t.Fatalf("type = %q", msg.Type)
	}
	if data, _ := msg.Data.(map[string]interface{}); data["id"] != "live-1" {
		t.Errorf("data = %#v", msg.Data)
	}
}

func TestWebSocket_Origin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		ok      bool
	}{
		{"no origin", nil, "", true},
		{"configured origin", []string{"http://console.local"}, "http://console.local", true},
		{"wildcard", []string{"*"}, "http://anything", true},
		{"foreign origin", []string{"http://console.local"}, "http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := startWSServer(t, tt.origins)
			_, resp, err := dial(t, server, tt.origin)
			if tt.ok && err != nil {
				t.Errorf("dial: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Error("dial should fail")
				} else if resp != nil && resp.StatusCode != http.StatusForbidden {
					t.Errorf("status = %d, want 403", resp.StatusCode)
				}
			}
		})
	}
}

func TestNewSessionEvent(t *testing.T) {
	ev := NewSessionEvent(session.Change{Kind: session.ChangeInvalidated, Reason: session.ReasonAuthExpired})
	if ev.Kind != "invalidated" || ev.Session != nil || ev.Reason != "auth_expired" {
		t.Errorf("event = %+v", ev)
	}
	ev = NewSessionEvent(session.Change{Kind: session.ChangeEstablished, Current: &session.Session{Identity: "guard01"}})
	if ev.Session == nil || ev.Session.Identity != "guard01" {
		t.Errorf("event = %+v", ev)
	}
}
