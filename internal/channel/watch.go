// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package channel

import (
	"iter"
	"strings"
	"sync"

	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
)

// Watcher is a cancellable handle on a sequence of alerts. Every Watch call
// returns a fresh, independent sequence; all watchers share the one
// connection. Delivery never drops: alerts the reader has not taken yet are
// queued without bound until the watcher is closed.
type Watcher struct {
	id    uint64
	topic string // "" follows the identity topic
	ch    chan models.AlertEvent
	c     *Channel

	once  sync.Once
	mu    sync.Mutex
	queue []models.AlertEvent
	ended bool
	wake  chan struct{}
	quit  chan struct{}
}

// Watch returns a watcher for an explicit topic. The topic is subscribed on
// the shared connection for as long as the watcher is open.
func (c *Channel) Watch(topic string) (*Watcher, error) {
	if !strings.HasPrefix(topic, topicPrefix) || len(topic) == len(topicPrefix) {
		return nil, ErrInvalidTopic
	}
	return c.addWatcher(topic)
}

// WatchAlerts returns a watcher that follows the current identity topic,
// including across identity changes.
func (c *Channel) WatchAlerts() (*Watcher, error) {
	return c.addWatcher("")
}

func (c *Channel) addWatcher(topic string) (*Watcher, error) {
	c.watchMu.Lock()
	if c.closed() {
		c.watchMu.Unlock()
		return nil, ErrClosed
	}
	c.nextWatcher++
	w := &Watcher{
		id:    c.nextWatcher,
		topic: topic,
		ch:    make(chan models.AlertEvent, c.opts.WatcherBuffer),
		c:     c,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
	go w.pump()
	c.watchers[w.id] = w
	n := len(c.watchers)
	c.watchMu.Unlock()

	metrics.ChannelWatchers.Set(float64(n))
	if topic != "" {
		c.Resync()
	}
	return w, nil
}

// Topic returns the explicit topic, or "" for an identity watcher.
func (w *Watcher) Topic() string { return w.topic }

// Events returns the event stream. It is closed when the watcher or the
// channel is closed.
func (w *Watcher) Events() <-chan models.AlertEvent { return w.ch }

// Seq returns the events as an iterator. Breaking out of the loop does not
// close the watcher.
func (w *Watcher) Seq() iter.Seq[models.AlertEvent] {
	return func(yield func(models.AlertEvent) bool) {
		for ev := range w.ch {
			if !yield(ev) {
				return
			}
		}
	}
}

// Close ends the watcher. It is idempotent.
func (w *Watcher) Close() {
	w.once.Do(func() {
		c := w.c
		c.watchMu.Lock()
		_, registered := c.watchers[w.id]
		delete(c.watchers, w.id)
		n := len(c.watchers)
		c.watchMu.Unlock()

		if registered {
			metrics.ChannelWatchers.Set(float64(n))
			w.closeEvents()
			if w.topic != "" {
				c.Resync()
			}
		}
	})
}

func (w *Watcher) closeEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ended {
		w.ended = true
		close(w.quit)
	}
}

// send queues ev for the reader. It reports false only once the watcher has
// ended.
func (w *Watcher) send(ev models.AlertEvent) bool {
	w.mu.Lock()
	if w.ended {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// pump moves queued events into ch in order. When the watcher ends, whatever
// still fits in ch stays readable and ch is closed.
func (w *Watcher) pump() {
	defer close(w.ch)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			select {
			case <-w.wake:
				continue
			case <-w.quit:
				w.flush()
				return
			}
		}
		ev := w.queue[0]
		w.mu.Unlock()

		select {
		case w.ch <- ev:
			w.mu.Lock()
			w.queue[0] = models.AlertEvent{}
			w.queue = w.queue[1:]
			w.mu.Unlock()
		case <-w.quit:
			w.flush()
			return
		}
	}
}

// flush moves queued events into ch until it is full.
func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) > 0 {
		select {
		case w.ch <- w.queue[0]:
			w.queue = w.queue[1:]
		default:
			w.queue = nil
			return
		}
	}
	w.queue = nil
}

// watchedTopics returns the explicit topics of open watchers.
func (c *Channel) watchedTopics() map[string]struct{} {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()
	out := make(map[string]struct{}, len(c.watchers))
	for _, w := range c.watchers {
		if w.topic != "" {
			out[w.topic] = struct{}{}
		}
	}
	return out
}

// deliver fans ev out to the watchers of topic and returns how many took it.
func (c *Channel) deliver(topic, identityTopic string, ev models.AlertEvent) int {
	c.watchMu.RLock()
	targets := make([]*Watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		if w.topic == topic || (w.topic == "" && topic == identityTopic) {
			targets = append(targets, w)
		}
	}
	c.watchMu.RUnlock()

	delivered := 0
	for _, w := range targets {
		if w.send(ev) {
			delivered++
		}
	}
	return delivered
}
