// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/safevision/internal/channel"
	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/relay"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

type fakeWatcher struct {
	ch     chan models.AlertEvent
	once   sync.Once
	closed chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{ch: make(chan models.AlertEvent, 4), closed: make(chan struct{})}
}

func (f *fakeWatcher) Events() <-chan models.AlertEvent { return f.ch }
func (f *fakeWatcher) Close()                           { f.once.Do(func() { close(f.closed) }) }

type recordingSink struct {
	mu     sync.Mutex
	merged []string
	seen   map[string]bool
}

func (r *recordingSink) Merge(ev models.AlertEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	r.merged = append(r.merged, ev.ID)
	added := !r.seen[ev.ID]
	r.seen[ev.ID] = true
	return added
}

type recordingHub struct {
	events chan models.AlertEvent
}

func (h *recordingHub) BroadcastAlert(ev models.AlertEvent) { h.events <- ev }

func TestAlertFanout_DeliversToHistoryAndHub(t *testing.T) {
	w := newFakeWatcher()
	sink := &recordingSink{}
	hub := &recordingHub{events: make(chan models.AlertEvent, 4)}
	f := &alertFanout{source: func() (relay.Watcher, error) { return w, nil }, sink: sink, hub: hub}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.RunWithContext(ctx) }()

	w.ch <- models.AlertEvent{ID: "a1"}
	w.ch <- models.AlertEvent{ID: "a2"}
	for _, want := range []string{"a1", "a2"} {
		select {
		case ev := <-hub.events:
			if ev.ID != want {
				t.Errorf("broadcast %q, want %q", ev.ID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for broadcast")
		}
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext() = %v", err)
	}
	select {
	case <-w.closed:
	default:
		t.Error("watcher should be closed")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.merged) != 2 {
		t.Errorf("merged = %v", sink.merged)
	}
}

func TestAlertFanout_Errors(t *testing.T) {
	openErr := errors.New("watch refused")
	tests := []struct {
		name   string
		source relay.Source
		want   error
	}{
		{
			name:   "source fails",
			source: func() (relay.Watcher, error) { return nil, openErr },
			want:   openErr,
		},
		{
			name: "source ends",
			source: func() (relay.Watcher, error) {
				w := newFakeWatcher()
				close(w.ch)
				return w, nil
			},
			want: channel.ErrClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &alertFanout{source: tt.source, sink: &recordingSink{}, hub: &recordingHub{}}
			if err := f.RunWithContext(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("RunWithContext() = %v, want %v", err, tt.want)
			}
		})
	}
}

type fakePushLayer struct {
	added   int
	removed int
}

func (f *fakePushLayer) AddPushService(suture.Service) suture.ServiceToken {
	f.added++
	return suture.ServiceToken{}
}

func (f *fakePushLayer) RemovePushService(suture.ServiceToken) error {
	f.removed++
	return nil
}

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestRelaySwitch_Apply(t *testing.T) {
	ns := startNATS(t)
	layer := &fakePushLayer{}
	s := newRelaySwitch(layer, nil, nil)
	enabled := config.RelayConfig{Enabled: true, URL: ns.ClientURL(), SubjectPrefix: "safevision.alerts"}

	steps := []struct {
		name        string
		cfg         config.RelayConfig
		wantAdded   int
		wantRemoved int
		wantRunning bool
	}{
		{"disabled", config.RelayConfig{}, 0, 0, false},
		{"enable", enabled, 1, 0, true},
		{"unchanged", enabled, 1, 0, true},
		{"prefix changed", config.RelayConfig{Enabled: true, URL: ns.ClientURL(), SubjectPrefix: "other"}, 2, 1, true},
		{"disable", config.RelayConfig{}, 2, 2, false},
	}
	for _, st := range steps {
		if err := s.Apply(st.cfg); err != nil {
			t.Fatalf("%s: Apply() = %v", st.name, err)
		}
		if layer.added != st.wantAdded || layer.removed != st.wantRemoved || s.running != st.wantRunning {
			t.Errorf("%s: added=%d removed=%d running=%v", st.name, layer.added, layer.removed, s.running)
		}
	}
	s.Stop()
}

func TestRelaySwitch_DialFailure(t *testing.T) {
	layer := &fakePushLayer{}
	s := newRelaySwitch(layer, nil, nil)
	s.connect = func(config.RelayConfig, relay.Source, relay.IdentitySource) (*relay.Relay, error) {
		return nil, errors.New("dial failed")
	}
	if err := s.Apply(config.RelayConfig{Enabled: true, URL: "nats://nowhere", SubjectPrefix: "a"}); err == nil {
		t.Fatal("expected dial error")
	}
	if layer.added != 0 || s.running {
		t.Error("failed dial should not add a service")
	}
	s.Stop()
	if layer.removed != 0 {
		t.Error("nothing to remove")
	}
}
