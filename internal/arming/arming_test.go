// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package arming

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
)

type fakeAgent struct {
	mu sync.Mutex

	cameraURL   string
	configErr   error
	activateErr error
	disarmErr   error

	// block, when set, holds ActivateDevice until closed.
	block chan struct{}

	activations   []string
	deactivations []string
	configCalls   int
}

func (f *fakeAgent) DeviceConfig(context.Context) (*models.DeviceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configCalls++
	if f.configErr != nil {
		return nil, f.configErr
	}
	return &models.DeviceConfig{CameraURL: f.cameraURL}, nil
}

func (f *fakeAgent) ActivateDevice(_ context.Context, userID, cameraURL string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, userID+"|"+cameraURL)
	return f.activateErr
}

func (f *fakeAgent) DeactivateDevice(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivations = append(f.deactivations, userID)
	return f.disarmErr
}

func (f *fakeAgent) StreamURL(identity string, at time.Time) string {
	return fmt.Sprintf("http://agent/video/%s?t=%d", url.PathEscape(identity), at.UnixMilli())
}

func (f *fakeAgent) counts() (config, on, off int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configCalls, len(f.activations), len(f.deactivations)
}

type staticIdentity string

func (s staticIdentity) Identity() string { return string(s) }

type recordingNotifier struct {
	mu      sync.Mutex
	errors  []string
	success []string
}

func (r *recordingNotifier) Error(cause, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, cause+": "+message)
	return true
}

func (r *recordingNotifier) Success(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, message)
}

func newTestOrchestrator(agent *fakeAgent) (*Orchestrator, *recordingNotifier) {
	n := &recordingNotifier{}
	o := New(agent, staticIdentity("guard01"), n)
	clock := time.UnixMilli(1_700_000_000_000)
	o.now = func() time.Time { return clock }
	return o, n
}

func TestArm_Success(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam-1/live"}
	o, n := newTestOrchestrator(agent)

	var seen []string
	o.OnChange(func(s Snapshot) { seen = append(seen, s.StateName) })

	if err := o.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	snap := o.Snapshot()
	if snap.State != Armed {
		t.Errorf("state = %v, want ARMED", snap.State)
	}
	if snap.StreamURL != "http://agent/video/guard01?t=1700000000000" {
		t.Errorf("stream = %q", snap.StreamURL)
	}
	if got := agent.activations; len(got) != 1 || got[0] != "guard01|rtsp://cam-1/live" {
		t.Errorf("activations = %v", got)
	}
	if strings.Join(seen, ",") != "ARMING,ARMED" {
		t.Errorf("transitions = %v", seen)
	}
	if len(n.success) != 1 {
		t.Errorf("success notices = %v", n.success)
	}
	if got := testutil.ToFloat64(metrics.ArmingState); got != float64(Armed) {
		t.Errorf("arming gauge = %v", got)
	}
}

func TestArm_DeviceNotConfigured(t *testing.T) {
	agent := &fakeAgent{}
	o, n := newTestOrchestrator(agent)

	err := o.Arm(context.Background())
	if !errors.Is(err, apperr.ErrDeviceNotConfigured) {
		t.Fatalf("err = %v, want DeviceNotConfigured", err)
	}
	if o.Snapshot().State != Disarmed {
		t.Errorf("state = %v", o.Snapshot().State)
	}
	if _, on, _ := agent.counts(); on != 0 {
		t.Error("agent must not be called without a camera")
	}
	if len(n.errors) != 1 {
		t.Errorf("error notices = %v", n.errors)
	}
}

func TestArm_ActivationFailure(t *testing.T) {
	agent := &fakeAgent{
		cameraURL:   "rtsp://cam-1/live",
		activateErr: apperr.New(apperr.ServerError, "gateway.activate", "agent exploded"),
	}
	o, _ := newTestOrchestrator(agent)

	err := o.Arm(context.Background())
	if !errors.Is(err, apperr.ErrActivationFailed) {
		t.Fatalf("err = %v, want ActivationFailed", err)
	}
	snap := o.Snapshot()
	if snap.State != Disarmed || snap.StreamURL != "" {
		t.Errorf("snapshot = %+v, want DISARMED without stream", snap)
	}
}

func TestArm_AuthExpiredKeepsKind(t *testing.T) {
	agent := &fakeAgent{configErr: apperr.New(apperr.AuthExpired, "gateway", "")}
	o, n := newTestOrchestrator(agent)

	if err := o.Arm(context.Background()); !errors.Is(err, apperr.ErrAuthExpired) {
		t.Fatalf("err = %v", err)
	}
	if len(n.errors) != 0 {
		t.Errorf("expired session must not notify from arming: %v", n.errors)
	}
}

func TestArm_NoIdentity(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam"}
	o := New(agent, staticIdentity(""), nil)
	if err := o.Arm(context.Background()); !errors.Is(err, apperr.ErrAuthExpired) {
		t.Fatalf("err = %v", err)
	}
	if c, _, _ := agent.counts(); c != 0 {
		t.Error("no remote call expected")
	}
}

func TestArm_BusyAndIdempotent(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam", block: make(chan struct{})}
	o, _ := newTestOrchestrator(agent)

	done := make(chan error, 1)
	go func() { done <- o.Arm(context.Background()) }()

	waitState(t, o, Arming)
	if err := o.Arm(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Arm err = %v, want ErrBusy", err)
	}
	if err := o.Disarm(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Disarm during ARMING err = %v, want ErrBusy", err)
	}

	close(agent.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := o.Arm(context.Background()); err != nil {
		t.Errorf("Arm when armed err = %v, want nil", err)
	}
	if c, on, _ := agent.counts(); c != 1 || on != 1 {
		t.Errorf("config calls = %d, activations = %d, want 1 each", c, on)
	}
}

func TestDisarm(t *testing.T) {
	tests := []struct {
		name       string
		disarmErr  error
		wantState  State
		wantKind   error
		wantNotice bool
	}{
		{name: "success", wantState: Disarmed},
		{
			name:       "failure stays armed",
			disarmErr:  apperr.New(apperr.Unreachable, "gateway.deactivate", ""),
			wantState:  Armed,
			wantKind:   apperr.ErrDeactivationFailed,
			wantNotice: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &fakeAgent{cameraURL: "rtsp://cam", disarmErr: tt.disarmErr}
			o, n := newTestOrchestrator(agent)
			if err := o.Arm(context.Background()); err != nil {
				t.Fatal(err)
			}

			err := o.Disarm(context.Background())
			if tt.wantKind == nil && err != nil {
				t.Fatalf("Disarm() error = %v", err)
			}
			if tt.wantKind != nil && !errors.Is(err, tt.wantKind) {
				t.Fatalf("Disarm() error = %v, want %v", err, tt.wantKind)
			}

			snap := o.Snapshot()
			if snap.State != tt.wantState {
				t.Errorf("state = %v, want %v", snap.State, tt.wantState)
			}
			if snap.StreamURL != "" {
				t.Errorf("stream reference must be cleared, got %q", snap.StreamURL)
			}
			if got := agent.deactivations; len(got) != 1 || got[0] != "guard01" {
				t.Errorf("deactivations = %v", got)
			}
			if tt.wantNotice != (len(n.errors) > 0) {
				t.Errorf("error notices = %v", n.errors)
			}
		})
	}
}

func TestDisarm_WhenDisarmedIsNoop(t *testing.T) {
	agent := &fakeAgent{}
	o, _ := newTestOrchestrator(agent)
	if err := o.Disarm(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, off := agent.counts(); off != 0 {
		t.Error("no remote call expected")
	}
}

func TestStreamLost(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam"}
	o, n := newTestOrchestrator(agent)

	if o.StreamLost("") {
		t.Error("StreamLost while disarmed should do nothing")
	}
	if err := o.Arm(context.Background()); err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(metrics.StreamLosses)
	if o.StreamLost("http://other/stream") {
		t.Error("loss of a stale stream must be ignored")
	}
	if !o.StreamLost(o.Snapshot().StreamURL) {
		t.Fatal("StreamLost() = false")
	}

	snap := o.Snapshot()
	if snap.State != Disarmed || snap.StreamURL != "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, _, off := agent.counts(); off != 0 {
		t.Error("stream loss must not deactivate remotely")
	}
	if got := testutil.ToFloat64(metrics.StreamLosses) - before; got != 1 {
		t.Errorf("stream losses delta = %v", got)
	}
	if len(n.errors) != 1 || !strings.Contains(n.errors[0], "signal lost") {
		t.Errorf("notices = %v", n.errors)
	}
}

func TestReloadStream(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam"}
	o, _ := newTestOrchestrator(agent)

	if _, err := o.ReloadStream(); !errors.Is(err, ErrNotArmed) {
		t.Errorf("err = %v, want ErrNotArmed", err)
	}
	if err := o.Arm(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := o.Snapshot().StreamURL
	o.now = func() time.Time { return time.UnixMilli(1_700_000_005_000) }
	got, err := o.ReloadStream()
	if err != nil {
		t.Fatal(err)
	}
	if got == first || !strings.HasSuffix(got, "?t=1700000005000") {
		t.Errorf("reloaded = %q (was %q)", got, first)
	}
	if o.Snapshot().StreamURL != got {
		t.Error("snapshot not updated")
	}
}

func TestReset_SupersedesInFlightArm(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam", block: make(chan struct{})}
	o, _ := newTestOrchestrator(agent)

	done := make(chan error, 1)
	go func() { done <- o.Arm(context.Background()) }()
	waitState(t, o, Arming)

	o.Reset(context.Background())
	close(agent.block)

	if err := <-done; !errors.Is(err, apperr.ErrActivationFailed) {
		t.Errorf("err = %v", err)
	}
	if o.Snapshot().State != Disarmed {
		t.Errorf("state = %v, want DISARMED", o.Snapshot().State)
	}
}

type fakeProber struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (p *fakeProber) ProbeStream(context.Context, string) error {
	p.calls.Add(1)
	if p.fail.Load() {
		return apperr.New(apperr.Unreachable, "probe", "")
	}
	return nil
}

func TestStreamWatchdog_ReportsLoss(t *testing.T) {
	agent := &fakeAgent{cameraURL: "rtsp://cam"}
	o := New(agent, staticIdentity("guard01"), nil)
	prober := &fakeProber{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wd := NewStreamWatchdog(o, prober, 10*time.Millisecond, 0)
	errc := make(chan error, 1)
	go func() { errc <- wd.RunWithContext(ctx) }()

	time.Sleep(40 * time.Millisecond)
	if prober.calls.Load() != 0 {
		t.Error("watchdog must not probe while disarmed")
	}

	if err := o.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return prober.calls.Load() > 0 })
	if o.Snapshot().State != Armed {
		t.Fatal("healthy stream should stay armed")
	}

	prober.fail.Store(true)
	waitState(t, o, Disarmed)

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext() = %v", err)
	}
}

func TestStreamWatchdog_Disabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	wd := NewStreamWatchdog(New(&fakeAgent{}, staticIdentity("x"), nil), &fakeProber{}, 0, 0)
	if err := wd.RunWithContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func waitState(t *testing.T, o *Orchestrator, s State) {
	t.Helper()
	waitFor(t, func() bool { return o.Snapshot().State == s })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
