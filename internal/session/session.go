// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package session owns the authenticated identity and its access token.
//
// The Manager is the only writer of the token. The request gateway and the
// live alert channel read it through CurrentToken at the moment of use.
// Authentication failures are funnelled back through HandleAuthExpired, which
// invalidates the session at most once per session episode no matter how many
// concurrent requests fail with the same token.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/validation"
)

// Sentinel errors.
var (
	ErrNoSession       = errors.New("session: not authenticated")
	ErrLoggingOut      = errors.New("session: logout in progress")
	ErrIdentityChanged = errors.New("session: token belongs to a different identity")
)

// Invalidation reasons.
const (
	ReasonAuthExpired   = "auth_expired"
	ReasonTokenRejected = "token_rejected"
	ReasonLogout        = "logout"
)

// Session is a snapshot of the authenticated principal.
type Session struct {
	Identity    string
	UserID      string
	DisplayName string
	Roles       []string
	Token       string
	ExpiresAt   time.Time
	Profile     *models.Profile
}

// Info returns the token-free view of s.
func (s *Session) Info() models.SessionInfo {
	return models.SessionInfo{
		Identity:    s.Identity,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Roles:       slices.Clone(s.Roles),
		ExpiresAt:   s.ExpiresAt,
	}
}

// HasRole reports whether the session carries role.
func (s *Session) HasRole(role string) bool {
	_, found := slices.BinarySearch(s.Roles, role)
	return found
}

// Expired reports whether the token expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Roles = slices.Clone(s.Roles)
	if s.Profile != nil {
		p := *s.Profile
		cp.Profile = &p
	}
	return &cp
}

// AuthBackend is the subset of the request gateway the session uses.
type AuthBackend interface {
	Login(ctx context.Context, creds models.Credentials) (string, error)
	Register(ctx context.Context, reg models.Registration) error
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error)
}

// Navigator moves the user to the unauthenticated entry point.
type Navigator interface {
	ToLogin(reason string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(reason string)

// ToLogin calls f.
func (f NavigatorFunc) ToLogin(reason string) { f(reason) }

// Notifier receives the user-visible session expiry notice.
type Notifier interface {
	Error(cause, message string) bool
}

// ChangeKind describes a session transition.
type ChangeKind int

const (
	ChangeEstablished ChangeKind = iota
	ChangeTokenRefreshed
	ChangeProfileUpdated
	ChangeInvalidated
	ChangeLoggedOut
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeEstablished:
		return "established"
	case ChangeTokenRefreshed:
		return "token_refreshed"
	case ChangeProfileUpdated:
		return "profile_updated"
	case ChangeInvalidated:
		return "invalidated"
	case ChangeLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Change is delivered to OnChange listeners. Current is nil after
// invalidation and logout.
type Change struct {
	Kind     ChangeKind
	Previous *Session
	Current  *Session
	Reason   string
}

// Options configure a Manager.
type Options struct {
	Store       TokenStore
	Parser      *TokenParser
	Backend     AuthBackend
	Navigator   Navigator
	Notifier    Notifier
	Interactive bool
}

// Manager owns at most one Session.
type Manager struct {
	mu         sync.RWMutex
	current    *Session
	loggingOut bool

	store       TokenStore
	parser      *TokenParser
	backend     AuthBackend
	nav         Navigator
	notifier    Notifier
	interactive bool

	listenersMu sync.RWMutex
	listeners   map[int]func(Change)
	nextID      int
	logoutHooks []func(context.Context)
}

// NewManager creates a Manager. Store defaults to a MemoryStore and Parser to
// a non-verifying parser.
func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Parser == nil {
		opts.Parser = NewTokenParser("")
	}
	return &Manager{
		store:       opts.Store,
		parser:      opts.Parser,
		backend:     opts.Backend,
		nav:         opts.Navigator,
		notifier:    opts.Notifier,
		interactive: opts.Interactive,
		listeners:   make(map[int]func(Change)),
	}
}

// SetBackend installs the auth backend after construction. The gateway both
// implements AuthBackend and reads tokens from the Manager.
func (m *Manager) SetBackend(b AuthBackend) {
	m.mu.Lock()
	m.backend = b
	m.mu.Unlock()
}

// Login authenticates, persists the token and establishes a new session.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) (*Session, error) {
	if verr := validation.ValidateStruct(&creds); verr != nil {
		return nil, &apperr.Error{Kind: apperr.BadRequest, Op: "session.Login", Message: verr.Error()}
	}
	backend, err := m.authBackend()
	if err != nil {
		return nil, err
	}

	token, err := backend.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	s, err := m.establish(ctx, token)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("component", "session").Str("identity", s.Identity).Msg("logged in")
	return s.clone(), nil
}

// Register creates an account. It does not log in.
func (m *Manager) Register(ctx context.Context, reg models.Registration) error {
	if verr := validation.ValidateStruct(&reg); verr != nil {
		return &apperr.Error{Kind: apperr.BadRequest, Op: "session.Register", Message: verr.Error()}
	}
	backend, err := m.authBackend()
	if err != nil {
		return err
	}
	return backend.Register(ctx, reg)
}

// RestoreFromStorage recovers a session from the token store. In
// non-interactive mode it returns (nil, nil) without touching storage.
// An absent, expired or undecodable token yields no session, and a bad
// stored token is removed.
func (m *Manager) RestoreFromStorage(ctx context.Context) (*Session, error) {
	if !m.interactive {
		return nil, nil
	}

	token, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	claims, err := m.parser.Parse(token)
	if err != nil {
		logging.Ctx(ctx).Info().Str("component", "session").Err(err).Msg("discarding stored token")
		if cerr := m.store.Clear(ctx); cerr != nil {
			logging.Ctx(ctx).Warn().Str("component", "session").Err(cerr).Msg("failed to clear stored token")
		}
		return nil, nil
	}

	s, err := m.install(ctx, token, claims, false)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("component", "session").Str("identity", s.Identity).Msg("session restored")
	return s.clone(), nil
}

// CurrentToken returns the token to use for the next request. It never
// blocks on I/O and returns false while logged out or while logout runs.
func (m *Manager) CurrentToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.loggingOut {
		return "", false
	}
	return m.current.Token, true
}

// Current returns a snapshot of the session, or nil.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// Identity returns the current identity, or "".
func (m *Manager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Identity
}

// HandleAuthExpired is called by the gateway when a request made with token
// was rejected as unauthenticated. Failures carrying a token other than the
// current one belong to an earlier episode and are ignored.
func (m *Manager) HandleAuthExpired(token string) {
	m.mu.Lock()
	if m.current == nil || m.current.Token != token {
		m.mu.Unlock()
		return
	}
	m.invalidateLocked(ReasonAuthExpired)
}

// Invalidate clears the session and stored token and navigates to login.
// Within one session episode only the first call has any effect: the session
// is cleared under the lock, so every later call finds nothing to invalidate
// until a new session is established.
// It returns true if this call performed the invalidation.
func (m *Manager) Invalidate(reason string) bool {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false
	}
	m.invalidateLocked(reason)
	return true
}

// invalidateLocked is entered holding m.mu with a non-nil session and
// releases the lock.
func (m *Manager) invalidateLocked(reason string) {
	prev := m.current
	m.current = nil
	err := m.store.Clear(context.Background())
	m.mu.Unlock()

	if err != nil {
		logging.Warn().Str("component", "session").Err(err).Msg("failed to clear stored token")
	}

	metrics.SessionInvalidations.WithLabelValues(reason).Inc()
	metrics.SetSessionActive(false)
	logging.Warn().Str("component", "session").Str("identity", prev.Identity).Str("reason", reason).Msg("session invalidated")

	if m.notifier != nil {
		m.notifier.Error(apperr.AuthExpired.String(), apperr.DefaultMessage(apperr.AuthExpired))
	}
	if m.nav != nil {
		m.nav.ToLogin(reason)
	}
	m.emit(Change{Kind: ChangeInvalidated, Previous: prev.clone(), Reason: reason})
}

// AddLogoutHook registers fn to run during Logout, before state is cleared.
// Hooks run in registration order.
func (m *Manager) AddLogoutHook(fn func(context.Context)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.logoutHooks = append(m.logoutHooks, fn)
}

// Logout ends the session. From the moment it starts no token is handed out,
// then logout hooks run (channel teardown), then storage and memory are cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.loggingOut {
		m.mu.Unlock()
		return ErrLoggingOut
	}
	m.loggingOut = true
	prev := m.current
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loggingOut = false
		m.mu.Unlock()
	}()

	m.listenersMu.RLock()
	hooks := slices.Clone(m.logoutHooks)
	m.listenersMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx)
	}

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	err := m.store.Clear(ctx)
	metrics.SetSessionActive(false)

	if prev != nil {
		logging.Ctx(ctx).Info().Str("component", "session").Str("identity", prev.Identity).Msg("logged out")
		if m.nav != nil {
			m.nav.ToLogin(ReasonLogout)
		}
		m.emit(Change{Kind: ChangeLoggedOut, Previous: prev.clone(), Reason: ReasonLogout})
	}
	if err != nil {
		return fmt.Errorf("logout: clear token: %w", err)
	}
	return nil
}

// UpdateToken replaces the token of the current session, e.g. after a
// refresh. The new token must carry the same identity.
func (m *Manager) UpdateToken(ctx context.Context, token string) error {
	claims, err := m.parser.Parse(token)
	if err != nil {
		return apperr.Wrap(apperr.AuthExpired, "session.UpdateToken", err)
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.current.Identity != claims.Subject {
		m.mu.Unlock()
		return ErrIdentityChanged
	}
	prev := m.current.clone()
	m.current.Token = token
	m.current.UserID = string(claims.UserID)
	m.current.Roles = claims.Roles
	m.current.ExpiresAt = expiry(claims)
	cur := m.current.clone()
	m.mu.Unlock()

	if err := m.store.Save(ctx, token); err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	m.emit(Change{Kind: ChangeTokenRefreshed, Previous: prev, Current: cur})
	return nil
}

// UpdateProfile sends a partial profile update and merges the returned
// display fields into the session. Identity never changes.
func (m *Manager) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	if upd.Empty() {
		return nil, apperr.New(apperr.BadRequest, "session.UpdateProfile", "nothing to update")
	}
	if verr := validation.ValidateStruct(&upd); verr != nil {
		return nil, &apperr.Error{Kind: apperr.BadRequest, Op: "session.UpdateProfile", Message: verr.Error()}
	}
	if m.Identity() == "" {
		return nil, ErrNoSession
	}
	backend, err := m.authBackend()
	if err != nil {
		return nil, err
	}

	profile, err := backend.UpdateProfile(ctx, upd)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return profile, nil
	}
	prev := m.current.clone()
	merged := mergeProfile(m.current.Profile, profile)
	merged.Username = m.current.Identity
	m.current.Profile = merged
	if profile != nil && len(profile.Roles) > 0 {
		m.current.Roles = normalizeRoles(profile.Roles)
	}
	cur := m.current.clone()
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeProfileUpdated, Previous: prev, Current: cur})
	return merged, nil
}

// OnChange registers fn for session transitions. fn runs synchronously on the
// goroutine that caused the change. The returned func unregisters it.
func (m *Manager) OnChange(fn func(Change)) (unsubscribe func()) {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) establish(ctx context.Context, token string) (*Session, error) {
	claims, err := m.parser.Parse(token)
	if err != nil {
		return nil, &apperr.Error{
			Kind:    apperr.ServerError,
			Op:      "session.Login",
			Message: "server returned an unusable token",
			Err:     err,
		}
	}
	return m.install(ctx, token, claims, true)
}

// install makes token the current session. With persist the token is saved
// under the same lock, so a concurrent invalidation cannot clear storage
// between the save and the switch.
func (m *Manager) install(ctx context.Context, token string, claims *Claims, persist bool) (*Session, error) {
	m.mu.Lock()
	if persist {
		if err := m.store.Save(ctx, token); err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("persist token: %w", err)
		}
	}
	prev := m.current.clone()
	s := &Session{
		Identity:    claims.Subject,
		UserID:      string(claims.UserID),
		DisplayName: claims.Subject,
		Roles:       claims.Roles,
		Token:       token,
		ExpiresAt:   expiry(claims),
	}
	m.current = s
	cur := s.clone()
	m.mu.Unlock()

	metrics.SetSessionActive(true)
	m.emit(Change{Kind: ChangeEstablished, Previous: prev, Current: cur})
	return cur, nil
}

func (m *Manager) authBackend() (AuthBackend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.backend == nil {
		return nil, errors.New("session: no auth backend configured")
	}
	return m.backend, nil
}

func (m *Manager) emit(c Change) {
	m.listenersMu.RLock()
	fns := make([]func(Change), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func expiry(c *Claims) time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func mergeProfile(base, upd *models.Profile) *models.Profile {
	out := &models.Profile{}
	if base != nil {
		*out = *base
	}
	if upd == nil {
		return out
	}
	if upd.ID != "" {
		out.ID = upd.ID
	}
	if upd.Email != "" {
		out.Email = upd.Email
	}
	if upd.PhoneNumber != "" {
		out.PhoneNumber = upd.PhoneNumber
	}
	if upd.CameraConnectionURL != "" {
		out.CameraConnectionURL = upd.CameraConnectionURL
	}
	if len(upd.Roles) > 0 {
		out.Roles = slices.Clone(upd.Roles)
	}
	if len(upd.AlertPreferences) > 0 {
		out.AlertPreferences = slices.Clone(upd.AlertPreferences)
	}
	return out
}
