// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package channel maintains the live alert connection to the push endpoint.

The endpoint speaks STOMP 1.2 over a WebSocket. One connection is kept per
authenticated session; the access token is sent once, in the CONNECT frame.
After CONNECTED the channel subscribes to the identity topic
(/topic/alerts/{identity}) and to any topic an explicit watcher asked for.

Lifecycle:

	DISCONNECTED -> CONNECTING -> CONNECTED -> SUBSCRIBED
	      ^              |             |            |
	      +--------------+-------------+------------+  drop: wait ReconnectDelay, reconnect
	                                                   teardown: no reconnect

Run drives the connection and is meant to be hosted by a supervisor. Without
an identity it does not dial; it logs a warning and waits for Resync. After an
unintended disconnect it waits a fixed delay and reconnects, computing the
topic from the session as it is at that moment.

Received MESSAGE bodies are decoded as models.AlertEvent. Malformed payloads are
logged and dropped. Alert IDs seen within the dedup window are dropped, so
broker redelivery after a reconnect does not reach watchers twice.
*/
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/cache"
	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
)

// Sentinel errors.
var (
	ErrClosed         = errors.New("channel: closed")
	ErrAlreadyRunning = errors.New("channel: already running")
	ErrInvalidTopic   = errors.New("channel: invalid topic")
)

// errTeardown ends a connection on purpose; no reconnect delay follows.
var errTeardown = errors.New("channel: teardown")

const (
	topicPrefix      = "/topic/"
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Topic returns the alert topic of identity.
func Topic(identity string) string {
	return topicPrefix + "alerts/" + identity
}

// Status is the connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusSubscribed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusSubscribed:
		return "SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// Subscription is the state of the identity subscription. Topic is set only
// while Status is StatusSubscribed.
type Subscription struct {
	Topic  string `json:"topic,omitempty"`
	Status Status `json:"-"`
	State  string `json:"status"`
}

// Session is what the channel needs from the session manager.
type Session interface {
	CurrentToken() (string, bool)
	Identity() string
}

// Options configure a Channel.
type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	DedupTTL          time.Duration
	DedupCapacity     int
	WatcherBuffer     int

	// OnAuthRejected is called with the token a connection was refused with.
	OnAuthRejected func(token string)

	// Dialer overrides the default WebSocket dialer.
	Dialer *websocket.Dialer
}

// OptionsFromConfig maps push configuration to Options.
func OptionsFromConfig(cfg config.PushConfig) Options {
	return Options{
		URL:               cfg.URL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatOutgoing: cfg.HeartbeatOutgoing,
		HeartbeatIncoming: cfg.HeartbeatIncoming,
		DedupTTL:          cfg.DedupTTL,
		DedupCapacity:     cfg.DedupCapacity,
		WatcherBuffer:     cfg.WatcherBuffer,
	}
}

// Channel is the live alert channel. Create it with New, host Run, stop it
// with Close.
type Channel struct {
	opts   Options
	sess   Session
	seen   *cache.LRU[struct{}]
	dialer *websocket.Dialer

	mu         sync.Mutex
	sub        Subscription
	cancelConn context.CancelCauseFunc
	connDone   chan struct{}

	watchMu     sync.RWMutex
	watchers    map[uint64]*Watcher
	nextWatcher uint64

	listenMu    sync.RWMutex
	listeners   map[int]func(Subscription)
	nextListen  int
	changed     chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	running     atomic.Bool
	subSequence atomic.Uint64
}

// New creates a Channel bound to sess.
func New(opts Options, sess Session) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.WatcherBuffer <= 0 {
		opts.WatcherBuffer = 64
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		}
	}
	return &Channel{
		opts:      opts,
		sess:      sess,
		seen:      cache.New[struct{}](opts.DedupCapacity, opts.DedupTTL),
		dialer:    dialer,
		sub:       Subscription{Status: StatusDisconnected, State: StatusDisconnected.String()},
		watchers:  make(map[uint64]*Watcher),
		listeners: make(map[int]func(Subscription)),
		changed:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Status returns the current subscription state.
func (c *Channel) Status() Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// OnStatus registers fn for subscription state changes.
func (c *Channel) OnStatus(fn func(Subscription)) (unsubscribe func()) {
	c.listenMu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = fn
	c.listenMu.Unlock()
	return func() {
		c.listenMu.Lock()
		delete(c.listeners, id)
		c.listenMu.Unlock()
	}
}

// Resync tells the channel that the session identity or token may have
// changed. A deferred activation retries; a live connection re-evaluates its
// subscriptions, or tears down if the identity is gone.
func (c *Channel) Resync() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Disconnect tears down the current connection, if any, and waits until the
// socket is released or ctx ends. The channel stays usable: Run dials again
// as soon as it finds an authenticated identity, which during logout it does
// not.
func (c *Channel) Disconnect(ctx context.Context) {
	c.mu.Lock()
	cancel, done := c.cancelConn, c.connDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel(errTeardown)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close tears down the connection, stops reconnection and ends every watcher.
// It is idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Disconnect(context.Background())

		c.watchMu.Lock()
		ws := c.watchers
		c.watchers = make(map[uint64]*Watcher)
		c.watchMu.Unlock()
		for _, w := range ws {
			w.closeEvents()
		}
		metrics.ChannelWatchers.Set(0)
		logging.Info().Str("component", "channel").Msg("live alert channel closed")
	})
	return nil
}

func (c *Channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Run maintains the connection until ctx ends or Close is called. It
// returns nil after Close and ctx.Err() on cancellation.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	log := logging.Ctx(ctx).With().Str("component", "channel").Logger()

	for {
		if c.closed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		identity := c.sess.Identity()
		token, ok := c.sess.CurrentToken()
		if identity == "" || !ok {
			log.Warn().Msg("activation deferred: no authenticated identity")
			c.setStatus(StatusDisconnected, "")
			if !c.wait(ctx) {
				return c.exitErr(ctx)
			}
			continue
		}

		err := c.connect(ctx, identity, token)
		c.setStatus(StatusDisconnected, "")

		if c.closed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errTeardown) {
			log.Info().Msg("connection torn down")
			continue
		}

		log.Warn().Err(err).Dur("delay", c.opts.ReconnectDelay).Msg("connection lost, reconnecting")
		metrics.ChannelReconnects.Inc()
		if !c.sleep(ctx, c.opts.ReconnectDelay) {
			return c.exitErr(ctx)
		}
	}
}

func (c *Channel) exitErr(ctx context.Context) error {
	if c.closed() {
		return nil
	}
	return ctx.Err()
}

// wait blocks until Resync, Close or ctx. It returns false on Close or ctx.
func (c *Channel) wait(ctx context.Context) bool {
	select {
	case <-c.changed:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// sleep waits d regardless of Resync, so a reconnect happens exactly once per
// delay. It returns false on Close or ctx.
func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// connect runs one connection from dial to disconnect.
func (c *Channel) connect(ctx context.Context, identity, token string) error {
	connCtx, cancel := context.WithCancelCause(ctx)
	connDone := make(chan struct{})
	c.mu.Lock()
	c.cancelConn, c.connDone = cancel, connDone
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelConn, c.connDone = nil, nil
		c.mu.Unlock()
		cancel(nil)
		close(connDone)
	}()

	// Close may have run between the caller's check and registering cancel.
	if c.closed() {
		return errTeardown
	}

	log := logging.Ctx(ctx).With().Str("component", "channel").Logger()
	c.setStatus(StatusConnecting, "")

	conn, resp, err := c.dialer.DialContext(connCtx, c.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if cause := context.Cause(connCtx); cause != nil && errors.Is(cause, errTeardown) {
			return errTeardown
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.authRejected(token)
			return apperr.Wrap(apperr.AuthExpired, "channel.connect", fmt.Errorf("handshake status %d: %w", resp.StatusCode, err))
		}
		return apperr.Wrap(apperr.Unreachable, "channel.connect", err)
	}

	// Unblocks the handshake read on cancellation.
	stopAfter := context.AfterFunc(connCtx, func() { _ = conn.Close() })

	send, expect, err := c.handshake(conn, token)
	if err != nil {
		stopAfter()
		_ = conn.Close()
		if cause := context.Cause(connCtx); cause != nil {
			return cause
		}
		return err
	}
	if !stopAfter() {
		_ = conn.Close()
		return context.Cause(connCtx)
	}
	log.Info().Str("url", c.opts.URL).Msg("connected")
	c.setStatus(StatusConnected, "")

	return c.serve(connCtx, conn, identity, token, send, expect)
}

// handshake sends CONNECT and waits for CONNECTED.
func (c *Channel) handshake(conn *websocket.Conn, token string) (send, expect time.Duration, err error) {
	host := ""
	if u, perr := url.Parse(c.opts.URL); perr == nil {
		host = u.Hostname()
	}
	connect := newFrame(cmdConnect,
		"accept-version", "1.2",
		"host", host,
		"heart-beat", heartBeat(c.opts.HeartbeatOutgoing, c.opts.HeartbeatIncoming),
		"Authorization", "Bearer "+token,
	)
	if err := writeFrame(conn, connect); err != nil {
		return 0, 0, apperr.Wrap(apperr.Unreachable, "channel.handshake", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, apperr.Wrap(apperr.Unreachable, "channel.handshake", err)
		}
		if isHeartbeat(data) {
			continue
		}
		f, err := parseFrame(data)
		if err != nil {
			return 0, 0, apperr.Wrap(apperr.MalformedMessage, "channel.handshake", err)
		}
		switch f.command {
		case cmdConnected:
			_ = conn.SetReadDeadline(time.Time{})
			send, expect = negotiateHeartBeat(c.opts.HeartbeatOutgoing, c.opts.HeartbeatIncoming, f.header("heart-beat"))
			return send, expect, nil
		case cmdError:
			return 0, 0, c.serverError(f, token)
		}
	}
}

// serve runs the connected phase: subscriptions, heartbeats, delivery.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, identity, token string, send, expect time.Duration) error {
	log := logging.Ctx(ctx).With().Str("component", "channel").Logger()

	frames := make(chan *frame, 16)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	go readLoop(conn, expect, frames, readErr, quit)

	subs := make(map[string]string) // topic -> subscription id
	if err := c.reconcile(conn, subs, identity); err != nil {
		_ = conn.Close()
		return err
	}

	var heartbeat <-chan time.Time
	if send > 0 {
		t := time.NewTicker(send)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.disconnect(conn)
			return context.Cause(ctx)

		case f, ok := <-frames:
			if !ok {
				_ = conn.Close()
				return apperr.Wrap(apperr.Unreachable, "channel.read", <-readErr)
			}
			switch f.command {
			case cmdMessage:
				c.handleMessage(ctx, f, subs, Topic(identity))
			case cmdError:
				_ = conn.Close()
				return c.serverError(f, token)
			case cmdReceipt:
			default:
				log.Debug().Str("command", f.command).Msg("ignoring frame")
			}

		case <-heartbeat:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
				_ = conn.Close()
				return apperr.Wrap(apperr.Unreachable, "channel.heartbeat", err)
			}

		case <-c.changed:
			current := c.sess.Identity()
			if current == "" {
				c.disconnect(conn)
				return errTeardown
			}
			if current != identity {
				// the socket stays bound to the credential it connected with
				log.Info().Str("from", identity).Str("to", current).Msg("identity changed, reconnecting")
				c.disconnect(conn)
				return errTeardown
			}
			if err := c.reconcile(conn, subs, identity); err != nil {
				_ = conn.Close()
				return err
			}
		}
	}
}

// reconcile makes the connection's subscriptions match the identity topic
// plus explicit watcher topics.
func (c *Channel) reconcile(conn *websocket.Conn, subs map[string]string, identity string) error {
	want := c.watchedTopics()
	want[Topic(identity)] = struct{}{}

	for topic, id := range subs {
		if _, keep := want[topic]; keep {
			continue
		}
		if err := writeFrame(conn, newFrame(cmdUnsubscribe, "id", id)); err != nil {
			return apperr.Wrap(apperr.Unreachable, "channel.unsubscribe", err)
		}
		delete(subs, topic)
	}
	for topic := range want {
		if _, have := subs[topic]; have {
			continue
		}
		id := "sub-" + strconv.FormatUint(c.subSequence.Add(1), 10)
		if err := writeFrame(conn, newFrame(cmdSubscribe, "id", id, "destination", topic, "ack", "auto")); err != nil {
			return apperr.Wrap(apperr.Unreachable, "channel.subscribe", err)
		}
		subs[topic] = id
		logging.Debug().Str("component", "channel").Str("topic", topic).Str("id", id).Msg("subscribed")
	}

	c.setStatus(StatusSubscribed, Topic(identity))
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, f *frame, subs map[string]string, identityTopic string) {
	topic := ""
	subID := f.header("subscription")
	for t, id := range subs {
		if id == subID {
			topic = t
			break
		}
	}
	if topic == "" {
		// late delivery for a subscription already dropped
		metrics.ChannelMessagesDropped.WithLabelValues("stale").Inc()
		return
	}

	var ev models.AlertEvent
	err := json.Unmarshal(f.body, &ev)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		metrics.ChannelMessagesDropped.WithLabelValues("malformed").Inc()
		logging.Ctx(ctx).Warn().Str("component", "channel").Str("topic", topic).
			Err(apperr.Wrap(apperr.MalformedMessage, "channel.message", err)).Msg("dropping malformed alert")
		return
	}
	metrics.ChannelMessagesReceived.Inc()

	if c.seen.Contains(ev.ID) {
		metrics.ChannelMessagesDropped.WithLabelValues("duplicate").Inc()
		return
	}
	// only an alert someone received counts as seen, so a redelivery of an
	// undelivered one still gets through
	if c.deliver(topic, identityTopic, ev) == 0 {
		metrics.ChannelMessagesDropped.WithLabelValues("no_watcher").Inc()
		return
	}
	c.seen.Add(ev.ID, struct{}{})
}

func (c *Channel) serverError(f *frame, token string) error {
	msg := f.header("message")
	if msg == "" {
		msg = strings.TrimSpace(string(f.body))
	}
	if looksLikeAuthFailure(msg) {
		c.authRejected(token)
		return apperr.New(apperr.AuthExpired, "channel", msg)
	}
	return apperr.New(apperr.ServerError, "channel", msg)
}

func (c *Channel) authRejected(token string) {
	logging.Warn().Str("component", "channel").Msg("push endpoint rejected credentials")
	if c.opts.OnAuthRejected != nil {
		c.opts.OnAuthRejected(token)
	}
}

func looksLikeAuthFailure(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"unauthorized", "unauthenticated", "401", "expired", "invalid token", "access denied", "forbidden"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

// disconnect sends DISCONNECT and a close frame, then closes the socket.
func (c *Channel) disconnect(conn *websocket.Conn) {
	_ = writeFrame(conn, newFrame(cmdDisconnect))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func (c *Channel) setStatus(s Status, topic string) {
	c.mu.Lock()
	if s != StatusSubscribed {
		topic = ""
	}
	next := Subscription{Topic: topic, Status: s, State: s.String()}
	if c.sub == next {
		c.mu.Unlock()
		return
	}
	c.sub = next
	c.mu.Unlock()

	metrics.ChannelState.Set(float64(s))

	c.listenMu.RLock()
	fns := make([]func(Subscription), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenMu.RUnlock()
	for _, fn := range fns {
		fn(next)
	}
}

func writeFrame(conn *websocket.Conn, f *frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, f.marshal())
}

// readLoop reads frames until the connection fails or quit closes.
func readLoop(conn *websocket.Conn, expect time.Duration, frames chan<- *frame, errc chan<- error, quit <-chan struct{}) {
	defer close(frames)
	for {
		if expect > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2*expect + time.Second))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if isHeartbeat(data) {
			continue
		}
		f, err := parseFrame(data)
		if err != nil {
			metrics.ChannelMessagesDropped.WithLabelValues("malformed").Inc()
			logging.Warn().Str("component", "channel").Err(err).Msg("dropping unparseable frame")
			continue
		}
		select {
		case frames <- f:
		case <-quit:
			errc <- errTeardown
			return
		}
	}
}
