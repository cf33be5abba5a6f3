// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// setupHub starts a hub that stops when the test ends.
func setupHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
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
	return hub
}

// createTestClient creates a client without a connection.
func createTestClient(hub *Hub, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), sessionID: "test", hub: hub, send: make(chan Message, buffer)}
}

func registerClient(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	hub.Register <- client
	waitForCount(t, hub, func(n int) bool { return n > 0 })
}

func waitForCount(t *testing.T, hub *Hub, ok func(int) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok(hub.GetClientCount()) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("unexpected client count %d", hub.GetClientCount())
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub.clients == nil || hub.broadcast == nil || hub.Register == nil || hub.Unregister == nil {
		t.Fatal("hub not initialized")
	}
	if cap(hub.broadcast) != 256 {
		t.Errorf("broadcast capacity = %d, want 256", cap(hub.broadcast))
	}
	if hub.GetClientCount() != 0 {
		t.Error("new hub should have no clients")
	}
}

func TestHub_BroadcastAlert(t *testing.T) {
	hub := setupHub(t)
	a, b := createTestClient(hub, 8), createTestClient(hub, 8)
	registerClient(t, hub, a)
	hub.Register <- b
	waitForCount(t, hub, func(n int) bool { return n == 2 })

	before := testutil.ToFloat64(metrics.HubMessagesSent)
	hub.BroadcastAlert(models.AlertEvent{ID: "a1", Severity: models.SeverityCritical})

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		if msg.Type != MessageTypeAlert {
			t.Errorf("type = %q", msg.Type)
		}
		if ev, ok := msg.Data.(models.AlertEvent); !ok || ev.ID != "a1" {
			t.Errorf("data = %#v", msg.Data)
		}
	}
	if got := testutil.ToFloat64(metrics.HubMessagesSent) - before; got != 2 {
		t.Errorf("messages sent delta = %v, want 2", got)
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := setupHub(t)
	c := createTestClient(hub, 1)
	registerClient(t, hub, c)

	hub.Unregister <- c
	waitForCount(t, hub, func(n int) bool { return n == 0 })
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}

	// unregistering again is harmless
	hub.Unregister <- c
	if hub.GetClientCount() != 0 {
		t.Error("count changed")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := setupHub(t)
	slow := createTestClient(hub, 1)
	fast := createTestClient(hub, 16)
	registerClient(t, hub, slow)
	hub.Register <- fast
	waitForCount(t, hub, func(n int) bool { return n == 2 })

	for i := 0; i < 3; i++ {
		hub.BroadcastJSON(MessageTypeNotice, i)
	}
	waitForCount(t, hub, func(n int) bool { return n == 1 })

	for i := 0; i < 3; i++ {
		if msg := receive(t, fast); msg.Data != i {
			t.Errorf("fast client message %d = %v", i, msg.Data)
		}
	}
}

func TestHub_BroadcastQueueFullDrops(t *testing.T) {
	hub := NewHub() // not running
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.BroadcastJSON(MessageTypeArming, i)
	}
	if len(hub.broadcast) != cap(hub.broadcast) {
		t.Errorf("queue len = %d", len(hub.broadcast))
	}
}

func TestHub_RunWithContext_ClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- hub.RunWithContext(ctx) }()

	c := createTestClient(hub, 4)
	registerClient(t, hub, c)

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext() = %v", err)
	}
	if hub.GetClientCount() != 0 {
		t.Error("clients should be closed on shutdown")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if got := testutil.ToFloat64(metrics.HubClients); got != 0 {
		t.Errorf("hub clients gauge = %v", got)
	}
}

func TestHub_ConcurrentBroadcast(t *testing.T) {
	hub := setupHub(t)
	c := createTestClient(hub, 1024)
	registerClient(t, hub, c)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				hub.BroadcastJSON(MessageTypeChannelStatus, j)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		receive(t, c)
	}
}

func TestGetShutdownReason(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()

	if got := getShutdownReason(canceled); got != ShutdownReasonContextCanceled {
		t.Errorf("canceled = %q", got)
	}
	if got := getShutdownReason(expired); got != ShutdownReasonContextDeadline {
		t.Errorf("deadline = %q", got)
	}
}

func TestMarshalMessage(t *testing.T) {
	data, err := MarshalMessage(Message{Type: MessageTypeSession, Data: nil})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"session","data":null}` {
		t.Errorf("json = %s", data)
	}
}
