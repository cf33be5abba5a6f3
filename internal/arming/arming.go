// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package arming drives the camera device through its armed lifecycle.

Arming is two remote steps run strictly in sequence: the device configuration
is fetched fresh from the auth backend, then the device agent is asked to
start. Disarming is one step. The state machine has no shortcuts:

	DISARMED -> ARMING -> ARMED -> DISARMING -> DISARMED
	    ^          |                    |
	    +----------+ (failure)          +-> ARMED (failure)

Requests made while a transition is in flight are rejected with ErrBusy and
change nothing. While ARMED the orchestrator holds the stream reference, a
cache-busted URL of the agent's video endpoint. Losing the stream returns the
device to DISARMED locally without a remote call.
*/
package arming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
)

// State is the arming state.
type State int

const (
	Disarmed State = iota
	Arming
	Armed
	Disarming
)

func (s State) String() string {
	switch s {
	case Disarmed:
		return "DISARMED"
	case Arming:
		return "ARMING"
	case Armed:
		return "ARMED"
	case Disarming:
		return "DISARMING"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrBusy rejects a request made while a transition is in progress.
	ErrBusy = errors.New("arming: transition in progress")

	// ErrNotArmed is returned by operations that need an armed device.
	ErrNotArmed = errors.New("arming: device not armed")
)

// Agent is the subset of the gateway the orchestrator drives.
// Satisfied by *gateway.Client.
type Agent interface {
	DeviceConfig(ctx context.Context) (*models.DeviceConfig, error)
	ActivateDevice(ctx context.Context, userID, cameraURL string) error
	DeactivateDevice(ctx context.Context, userID string) error
	StreamURL(identity string, at time.Time) string
}

// IdentitySource yields the current session identity, "" when logged out.
type IdentitySource interface {
	Identity() string
}

// Notifier receives user-facing outcomes.
type Notifier interface {
	Error(cause, message string) bool
	Success(message string)
}

// Snapshot is a consistent view of the orchestrator.
type Snapshot struct {
	State     State     `json:"-"`
	StateName string    `json:"state"`
	StreamURL string    `json:"stream_url,omitempty"`
	Since     time.Time `json:"since"`
}

// Orchestrator owns the arming state of the current user's device.
type Orchestrator struct {
	agent    Agent
	sess     IdentitySource
	notifier Notifier
	now      func() time.Time

	mu     sync.Mutex
	state  State
	stream string
	since  time.Time
	gen    uint64

	listenMu   sync.RWMutex
	listeners  map[int]func(Snapshot)
	nextListen int
}

// New creates an Orchestrator in DISARMED. notifier may be nil.
func New(agent Agent, sess IdentitySource, notifier Notifier) *Orchestrator {
	o := &Orchestrator{
		agent:     agent,
		sess:      sess,
		notifier:  notifier,
		now:       time.Now,
		listeners: make(map[int]func(Snapshot)),
	}
	o.since = o.now()
	metrics.ArmingState.Set(float64(Disarmed))
	return o
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{State: o.state, StateName: o.state.String(), StreamURL: o.stream, Since: o.since}
}

// OnChange registers fn for state changes. fn runs synchronously.
func (o *Orchestrator) OnChange(fn func(Snapshot)) (unsubscribe func()) {
	o.listenMu.Lock()
	id := o.nextListen
	o.nextListen++
	o.listeners[id] = fn
	o.listenMu.Unlock()
	return func() {
		o.listenMu.Lock()
		delete(o.listeners, id)
		o.listenMu.Unlock()
	}
}

// Arm activates the device. It is a no-op when already armed and fails with
// ErrBusy during a transition.
func (o *Orchestrator) Arm(ctx context.Context) error {
	const op = "arming.arm"
	log := logging.Ctx(ctx).With().Str("component", "arming").Logger()

	identity := o.sess.Identity()
	if identity == "" {
		return apperr.New(apperr.AuthExpired, op, "not authenticated")
	}

	gen, err := o.begin(Disarmed, Arming, false)
	if err != nil {
		return ignoreNoop(err)
	}

	cfg, err := o.agent.DeviceConfig(ctx)
	if err != nil {
		o.finish(gen, Disarmed, "")
		log.Warn().Err(err).Msg("device configuration unavailable")
		return o.fail(err)
	}
	if !cfg.Configured() {
		o.finish(gen, Disarmed, "")
		return o.fail(apperr.New(apperr.DeviceNotConfigured, op, ""))
	}

	if err := o.agent.ActivateDevice(ctx, identity, cfg.CameraURL); err != nil {
		o.finish(gen, Disarmed, "")
		log.Warn().Err(err).Msg("device activation failed")
		return o.fail(reclassify(err, apperr.ActivationFailed, op))
	}

	stream := o.agent.StreamURL(identity, o.now())
	if !o.finish(gen, Armed, stream) {
		// reset while the agent call was in flight
		return apperr.New(apperr.ActivationFailed, op, "arming was cancelled")
	}
	log.Info().Str("user", identity).Msg("device armed")
	if o.notifier != nil {
		o.notifier.Success("Device armed")
	}
	return nil
}

// Disarm deactivates the device. The stream reference is dropped as soon as
// disarming starts, whatever the outcome. On failure the device stays ARMED.
func (o *Orchestrator) Disarm(ctx context.Context) error {
	const op = "arming.disarm"
	log := logging.Ctx(ctx).With().Str("component", "arming").Logger()

	identity := o.sess.Identity()
	if identity == "" {
		return apperr.New(apperr.AuthExpired, op, "not authenticated")
	}

	gen, err := o.begin(Armed, Disarming, true)
	if err != nil {
		return ignoreNoop(err)
	}

	if err := o.agent.DeactivateDevice(ctx, identity); err != nil {
		o.finish(gen, Armed, "")
		log.Warn().Err(err).Msg("device deactivation failed")
		return o.fail(reclassify(err, apperr.DeactivationFailed, op))
	}

	o.finish(gen, Disarmed, "")
	log.Info().Str("user", identity).Msg("device disarmed")
	if o.notifier != nil {
		o.notifier.Success("Device disarmed")
	}
	return nil
}

// StreamLost reports that the video stream at streamURL stopped. An empty
// streamURL matches any stream. When ARMED on that stream the device returns
// to DISARMED locally and the user is told. It reports whether it did.
func (o *Orchestrator) StreamLost(streamURL string) bool {
	o.mu.Lock()
	if o.state != Armed || o.stream == "" || (streamURL != "" && streamURL != o.stream) {
		o.mu.Unlock()
		return false
	}
	o.gen++
	from := o.state
	o.state, o.stream, o.since = Disarmed, "", o.now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	metrics.StreamLosses.Inc()
	logging.Warn().Str("component", "arming").Msg("camera signal lost, disarmed locally")
	o.changed(from, snap)
	if o.notifier != nil {
		o.notifier.Error("stream_lost", "Camera signal lost")
	}
	return true
}

// ReloadStream re-stamps the stream reference so the next fetch bypasses
// any cache.
func (o *Orchestrator) ReloadStream() (string, error) {
	identity := o.sess.Identity()

	o.mu.Lock()
	if o.state != Armed || identity == "" {
		o.mu.Unlock()
		return "", ErrNotArmed
	}
	o.stream = o.agent.StreamURL(identity, o.now())
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.changed(Armed, snap)
	return snap.StreamURL, nil
}

// Reset returns to DISARMED locally, abandoning any transition in flight.
// Used when the session ends.
func (o *Orchestrator) Reset(context.Context) {
	o.mu.Lock()
	o.gen++
	if o.state == Disarmed {
		o.mu.Unlock()
		return
	}
	from := o.state
	o.state, o.stream, o.since = Disarmed, "", o.now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.changed(from, snap)
}

var errNoop = errors.New("arming: already in target state")

func ignoreNoop(err error) error {
	if errors.Is(err, errNoop) {
		return nil
	}
	return err
}

// begin moves from -> via and returns the generation the transition belongs
// to. dropStream clears the stream reference with the move.
func (o *Orchestrator) begin(from, via State, dropStream bool) (uint64, error) {
	o.mu.Lock()
	switch o.state {
	case from:
	case Arming, Disarming:
		o.mu.Unlock()
		return 0, ErrBusy
	default:
		o.mu.Unlock()
		return 0, errNoop
	}
	o.gen++
	gen := o.gen
	o.state, o.since = via, o.now()
	if dropStream {
		o.stream = ""
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.changed(from, snap)
	return gen, nil
}

// finish completes the transition of gen. It reports false when a Reset
// superseded it.
func (o *Orchestrator) finish(gen uint64, to State, stream string) bool {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return false
	}
	from := o.state
	o.state, o.stream, o.since = to, stream, o.now()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.changed(from, snap)
	return true
}

func (o *Orchestrator) changed(from State, snap Snapshot) {
	if from != snap.State {
		metrics.RecordArmingTransition(from.String(), snap.StateName, float64(snap.State))
	}

	o.listenMu.RLock()
	fns := make([]func(Snapshot), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.listenMu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// fail reports err to the user unless the session layer already does.
func (o *Orchestrator) fail(err error) error {
	kind := apperr.KindOf(err)
	if o.notifier != nil && kind != apperr.AuthExpired && !errors.Is(err, context.Canceled) {
		o.notifier.Error(kind.String(), apperr.UserMessage(err))
	}
	return err
}

// reclassify maps an agent failure to kind. Expired sessions and
// cancellations keep their meaning.
func reclassify(err error, kind apperr.Kind, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperr.KindOf(err) == apperr.AuthExpired {
		return err
	}
	return apperr.Reclassify(err, kind, op)
}
