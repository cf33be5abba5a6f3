// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package history holds the paginated alert history view and the recent-alerts
list.

Pages are server truth: the store never sorts or filters locally. Query
changes are debounced and only the latest request may update the view;
superseded requests are cancelled and their late results discarded.

The recent list starts from the backend's recent endpoint and grows with
live arrivals, newest first, without duplicate IDs.

Acknowledgement is optimistic. The local flag flips before the remote call
and reverts if the call fails. Acknowledging an already acknowledged alert
does nothing, and concurrent acknowledgements of one alert share a single
remote call.
*/
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/validation"
)

// ErrDisposed is returned after Dispose.
var ErrDisposed = errors.New("history: disposed")

// Backend is the alert backend. Satisfied by *gateway.Client.
type Backend interface {
	History(ctx context.Context, identity string, q models.PageQuery) (models.Page, error)
	Recent(ctx context.Context, identity string) ([]models.AlertEvent, error)
	Acknowledge(ctx context.Context, id string) error
}

// IdentitySource yields the current session identity.
type IdentitySource interface {
	Identity() string
}

// Notifier receives user-facing failures.
type Notifier interface {
	Error(cause, message string) bool
}

// Options configure a Store.
type Options struct {
	Debounce    time.Duration
	PageSize    int
	RecentLimit int
	// AckTimeout bounds the shared remote acknowledgement. Defaults to 15s.
	AckTimeout time.Duration
}

// OptionsFromConfig maps history configuration to Options.
func OptionsFromConfig(cfg config.HistoryConfig) Options {
	return Options{
		Debounce:    cfg.DebounceInterval,
		PageSize:    cfg.DefaultPageSize,
		RecentLimit: cfg.RecentLimit,
	}
}

// View is a snapshot of the paginated view.
type View struct {
	Query   models.PageQuery `json:"query"`
	Page    models.Page      `json:"page"`
	Loading bool             `json:"loading"`
	Error   string           `json:"error,omitempty"`
}

// Store is the alert history store.
type Store struct {
	backend  Backend
	sess     IdentitySource
	notifier Notifier
	opts     Options

	mu       sync.Mutex
	query    models.PageQuery
	page     models.Page
	pageErr  error
	loading  bool
	gen      uint64
	timer    *time.Timer
	cancel   context.CancelFunc
	recent   []models.AlertEvent
	acking   map[string]bool // id -> acknowledged before the optimistic flip
	disposed bool

	base     context.Context
	stopBase context.CancelFunc
	acks     singleflight.Group

	listenMu   sync.RWMutex
	listeners  map[int]func(View)
	nextListen int
}

// New creates a Store. notifier may be nil.
func New(opts Options, backend Backend, sess IdentitySource, notifier Notifier) *Store {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 100
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 15 * time.Second
	}
	q := models.DefaultPageQuery()
	if opts.PageSize > 0 {
		q.PageSize = opts.PageSize
	}
	base, stop := context.WithCancel(context.Background())
	return &Store{
		backend:   backend,
		sess:      sess,
		notifier:  notifier,
		opts:      opts,
		query:     q,
		page:      models.Page{Items: []models.AlertEvent{}, PageSize: q.PageSize},
		acking:    make(map[string]bool),
		base:      base,
		stopBase:  stop,
		listeners: make(map[int]func(View)),
	}
}

// GetPage fetches one page from the backend. It does not touch the view.
func (s *Store) GetPage(ctx context.Context, identity string, q models.PageQuery) (models.Page, error) {
	const op = "history.get_page"
	if identity == "" {
		return models.Page{}, apperr.New(apperr.AuthExpired, op, "not authenticated")
	}
	if verr := validation.ValidateStruct(q); verr != nil {
		return models.Page{}, apperr.Wrap(apperr.BadRequest, op, verr)
	}
	page, err := s.backend.History(ctx, identity, q)
	if err != nil {
		metrics.HistoryPageLoads.WithLabelValues("error").Inc()
		return models.Page{}, err
	}
	metrics.HistoryPageLoads.WithLabelValues("success").Inc()
	return page, nil
}

// View returns the current view.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() View {
	v := View{Query: s.query, Page: s.page, Loading: s.loading}
	v.Page.Items = append([]models.AlertEvent(nil), s.page.Items...)
	if s.pageErr != nil {
		v.Error = apperr.UserMessage(s.pageErr)
	}
	return v
}

// OnChange registers fn for view changes.
func (s *Store) OnChange(fn func(View)) (unsubscribe func()) {
	s.listenMu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.listenMu.Unlock()
	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}
}

// SetQuery changes the view query. The load starts after the debounce
// interval; a later SetQuery supersedes it. A sort change returns to the
// first page.
func (s *Store) SetQuery(q models.PageQuery) error {
	if verr := validation.ValidateStruct(q); verr != nil {
		return apperr.Wrap(apperr.BadRequest, "history.set_query", verr)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if !q.SameSort(s.query) {
		q.PageIndex = 0
	}
	s.query = q
	s.gen++
	gen := s.gen
	s.stopLocked()
	s.loading = true
	s.timer = time.AfterFunc(s.opts.Debounce, func() { s.load(gen, q) })
	v := s.viewLocked()
	s.mu.Unlock()

	s.changed(v)
	return nil
}

// Refresh reloads the current query without debounce.
func (s *Store) Refresh() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.gen++
	gen, q := s.gen, s.query
	s.stopLocked()
	s.loading = true
	s.mu.Unlock()

	go s.load(gen, q)
	return nil
}

// stopLocked cancels the pending timer and the in-flight request.
func (s *Store) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Store) load(gen uint64, q models.PageQuery) {
	s.mu.Lock()
	if s.disposed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	page, err := s.GetPage(ctx, s.sess.Identity(), q)

	s.mu.Lock()
	if s.disposed || gen != s.gen {
		s.mu.Unlock()
		metrics.HistoryPageLoads.WithLabelValues("discarded").Inc()
		return
	}
	s.cancel = nil
	s.loading = false
	if err != nil {
		s.pageErr = err
	} else {
		s.page, s.pageErr = page, nil
	}
	v := s.viewLocked()
	s.mu.Unlock()

	if err != nil {
		logging.Warn().Str("component", "history").Err(err).Msg("history page load failed")
		s.report(err)
	}
	s.changed(v)
}

// GetRecent loads the recent list for the current identity and replaces the
// local one.
func (s *Store) GetRecent(ctx context.Context) ([]models.AlertEvent, error) {
	identity := s.sess.Identity()
	if identity == "" {
		return nil, apperr.New(apperr.AuthExpired, "history.get_recent", "not authenticated")
	}
	items, err := s.backend.Recent(ctx, identity)
	if err != nil {
		s.report(err)
		return nil, err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	s.recent = s.recent[:0]
	seen := make(map[string]struct{}, len(items))
	for _, ev := range items {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		s.recent = append(s.recent, ev)
	}
	if len(s.recent) > s.opts.RecentLimit {
		s.recent = s.recent[:s.opts.RecentLimit]
	}
	out := append([]models.AlertEvent(nil), s.recent...)
	s.mu.Unlock()
	return out, nil
}

// Recent returns the local recent list, newest first.
func (s *Store) Recent() []models.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AlertEvent(nil), s.recent...)
}

// Merge prepends a live arrival to the recent list. An ID already present is
// not added again; an acknowledgement it carries is kept. Reports whether ev
// was added.
func (s *Store) Merge(ev models.AlertEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	for i := range s.recent {
		if s.recent[i].ID == ev.ID {
			if ev.Acknowledged {
				s.recent[i].Acknowledged = true
			}
			return false
		}
	}
	s.recent = append(s.recent, models.AlertEvent{})
	copy(s.recent[1:], s.recent)
	s.recent[0] = ev
	if len(s.recent) > s.opts.RecentLimit {
		s.recent = s.recent[:s.opts.RecentLimit]
	}
	return true
}

// Acknowledge marks id as acknowledged, optimistically.
func (s *Store) Acknowledge(ctx context.Context, id string) error {
	const op = "history.acknowledge"
	if id == "" {
		return apperr.New(apperr.BadRequest, op, "alert id is required")
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	// The in-flight check and joining the call happen under mu, and the call
	// clears acking under mu, so a caller either joins or sees the outcome.
	_, inflight := s.acking[id]
	if !inflight {
		prev, found := s.ackedLocked(id)
		if found && prev {
			s.mu.Unlock()
			metrics.Acknowledgements.WithLabelValues("skipped").Inc()
			return nil
		}
		s.acking[id] = prev
		s.setAckedLocked(id, true)
	}
	// The shared call outlives any one caller; each caller only stops waiting
	// on its own ctx.
	callCtx := context.WithoutCancel(ctx)
	result := s.acks.DoChan(id, func() (any, error) {
		return nil, s.acknowledge(callCtx, id)
	})
	v := s.viewLocked()
	s.mu.Unlock()
	if !inflight {
		s.changed(v)
	}

	select {
	case r := <-result:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acknowledge is the remote call shared by concurrent Acknowledge callers.
// It runs on the store's lifetime, not on a caller's.
func (s *Store) acknowledge(parent context.Context, id string) error {
	ctx, cancel := context.WithTimeout(parent, s.opts.AckTimeout)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	err := s.backend.Acknowledge(ctx, id)

	s.mu.Lock()
	// Forget and clearing acking happen together under mu: a caller arriving
	// after this starts a new call instead of joining the finished one.
	s.acks.Forget(id)
	prev := s.acking[id]
	delete(s.acking, id)
	if err != nil && !s.disposed {
		s.setAckedLocked(id, prev)
	}
	v := s.viewLocked()
	s.mu.Unlock()

	if err != nil {
		metrics.Acknowledgements.WithLabelValues("failed").Inc()
		logging.Ctx(ctx).Warn().Str("component", "history").Str("alert_id", id).Err(err).Msg("acknowledge failed, reverted")
		s.changed(v)
		s.report(err)
		return err
	}
	metrics.Acknowledgements.WithLabelValues("success").Inc()
	return nil
}

// Acknowledged reports the local flag for id and whether id is known.
func (s *Store) Acknowledged(id string) (acked, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackedLocked(id)
}

func (s *Store) ackedLocked(id string) (acked, found bool) {
	for _, ev := range s.recent {
		if ev.ID == id {
			return ev.Acknowledged, true
		}
	}
	for _, ev := range s.page.Items {
		if ev.ID == id {
			return ev.Acknowledged, true
		}
	}
	return false, false
}

func (s *Store) setAckedLocked(id string, acked bool) {
	for i := range s.recent {
		if s.recent[i].ID == id {
			s.recent[i].Acknowledged = acked
		}
	}
	for i := range s.page.Items {
		if s.page.Items[i].ID == id {
			s.page.Items[i].Acknowledged = acked
		}
	}
}

// Reset clears all local state, keeping the store usable. Used on logout.
func (s *Store) Reset(context.Context) {
	s.mu.Lock()
	s.gen++
	s.stopLocked()
	s.query = models.DefaultPageQuery()
	if s.opts.PageSize > 0 {
		s.query.PageSize = s.opts.PageSize
	}
	s.page = models.Page{Items: []models.AlertEvent{}, PageSize: s.query.PageSize}
	s.pageErr, s.loading = nil, false
	s.recent = nil
	v := s.viewLocked()
	s.mu.Unlock()
	s.changed(v)
}

// Dispose cancels pending work. Results arriving later are dropped.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.gen++
	s.stopLocked()
	s.loading = false
	s.mu.Unlock()
	s.stopBase()
}

func (s *Store) report(err error) {
	if s.notifier == nil || errors.Is(err, context.Canceled) {
		return
	}
	kind := apperr.KindOf(err)
	if kind == apperr.AuthExpired {
		return
	}
	s.notifier.Error(kind.String(), apperr.UserMessage(err))
}

func (s *Store) changed(v View) {
	s.listenMu.RLock()
	fns := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenMu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}
