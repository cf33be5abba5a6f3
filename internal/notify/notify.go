// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package notify is the user notification sink.
//
// Components report user-visible outcomes here instead of presenting them.
// Notices carrying the same cause within the suppression window collapse into
// one, so a burst of failures with a single root cause (every in-flight request
// rejecting an expired token) reaches the user once.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/safevision/internal/cache"
	"github.com/tomtom215/safevision/internal/logging"
)

// Level is the presentation level of a notice.
type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
)

// Notice is one user notification.
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Cause   string    `json:"cause,omitempty"`
	At      time.Time `json:"at"`
}

// DefaultWindow is the default same-cause suppression window.
const DefaultWindow = 10 * time.Second

const historySize = 50

// Notifier fans notices out to subscribers.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[int]func(Notice)
	nextSub int
	recent  []Notice

	seen *cache.LRU[struct{}]
	now  func() time.Time
}

// New creates a Notifier. window <= 0 selects DefaultWindow.
func New(window time.Duration) *Notifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Notifier{
		subs: make(map[int]func(Notice)),
		seen: cache.New[struct{}](256, window),
		now:  time.Now,
	}
}

// Subscribe registers fn for every delivered notice. fn is called synchronously
// and must not block. The returned func removes the subscription.
func (n *Notifier) Subscribe(fn func(Notice)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Error reports a failure. cause groups notices with the same root cause;
// an empty cause is never suppressed. Returns false when suppressed.
func (n *Notifier) Error(cause, message string) bool {
	return n.publish(LevelError, cause, message)
}

// Success reports a completed action.
func (n *Notifier) Success(message string) {
	n.publish(LevelSuccess, "", message)
}

// Info reports a neutral event such as an incoming alert.
func (n *Notifier) Info(message string) {
	n.publish(LevelInfo, "", message)
}

// Recent returns the most recent notices, oldest first.
func (n *Notifier) Recent() []Notice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Notice, len(n.recent))
	copy(out, n.recent)
	return out
}

func (n *Notifier) publish(level Level, cause, message string) bool {
	if cause != "" && n.seen.Seen(cause, struct{}{}) {
		logging.Debug().Str("component", "notify").Str("cause", cause).Msg("notice suppressed")
		return false
	}

	notice := Notice{
		ID:      uuid.New().String(),
		Level:   level,
		Message: message,
		Cause:   cause,
		At:      n.now(),
	}

	n.mu.Lock()
	n.recent = append(n.recent, notice)
	if len(n.recent) > historySize {
		n.recent = n.recent[len(n.recent)-historySize:]
	}
	subs := make([]func(Notice), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(notice)
	}
	return true
}
