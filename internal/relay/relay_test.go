// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/models"
)

// startServer runs an embedded NATS server on a random port.
func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

type fakeWatcher struct {
	ch   chan models.AlertEvent
	once sync.Once
	done chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{ch: make(chan models.AlertEvent, 8), done: make(chan struct{})}
}

func (f *fakeWatcher) Events() <-chan models.AlertEvent { return f.ch }
func (f *fakeWatcher) Close()                           { f.once.Do(func() { close(f.done) }) }

type staticIdentity string

func (s staticIdentity) Identity() string { return string(s) }

func TestRelay_PublishesAlerts(t *testing.T) {
	ns := startServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	inbox, err := sub.SubscribeSync("safevision.alerts.>")
	if err != nil {
		t.Fatal(err)
	}
	_ = sub.Flush()

	w := newFakeWatcher()
	r, err := Connect(config.RelayConfig{Enabled: true, URL: ns.ClientURL(), SubjectPrefix: "safevision.alerts"},
		func() (Watcher, error) { return w, nil }, staticIdentity("guard01"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.RunWithContext(ctx) }()

	w.ch <- models.AlertEvent{ID: "a1", Type: "INTRUSION", Severity: models.SeverityCritical}

	msg, err := inbox.NextMsg(3 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if msg.Subject != "safevision.alerts.guard01" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != "a1" {
		t.Errorf("Nats-Msg-Id = %q", got)
	}
	var ev models.AlertEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID != "a1" || ev.Severity != models.SeverityCritical {
		t.Errorf("event = %+v", ev)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext() = %v", err)
	}
	select {
	case <-w.done:
	default:
		t.Error("watcher should be closed when the run ends")
	}
}

func TestRelay_SourceClosed(t *testing.T) {
	ns := startServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	w := newFakeWatcher()
	close(w.ch)
	r := New(nc, "alerts", func() (Watcher, error) { return w, nil }, staticIdentity("guard01"))

	if err := r.RunWithContext(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestRelay_PublishAfterClose(t *testing.T) {
	ns := startServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	r := New(nc, "alerts.", nil, staticIdentity("x"))
	nc.Close()

	if err := r.Publish("x", models.AlertEvent{ID: "1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestSubject(t *testing.T) {
	r := New(nil, "alerts.", nil, nil)
	tests := map[string]string{
		"guard01":     "alerts.guard01",
		"a.b":         "alerts.a_b",
		"wild*card>":  "alerts.wild_card_",
		"with space":  "alerts.with_space",
		"":            "alerts._",
		"ünïcode-ok_": "alerts.ünïcode-ok_",
	}
	for in, want := range tests {
		if got := r.Subject(in); got != want {
			t.Errorf("Subject(%q) = %q, want %q", in, got, want)
		}
	}
}
