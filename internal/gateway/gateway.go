// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

/*
Package gateway performs every outbound call to the SafeVision backends.

Three backends are reached over HTTP:
  - auth: login, registration, profile update, device configuration
  - alert: alert history, recent alerts, acknowledgement
  - agent: device activation and deactivation, live video stream

All calls except login and registration carry the current bearer token, read
from the TokenSource at the moment the request is built. Non-2xx responses are
classified with apperr.ParseServerError. An AuthExpired response is reported to
the AuthFailureHandler together with the token the request was sent with, so
the session can tell a stale failure from a current one.

Each backend sits behind its own circuit breaker; agent commands are also rate
limited.
*/
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/config"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/metrics"
)

// Backend names, used for breakers and metrics labels.
const (
	BackendAuth  = "auth"
	BackendAlert = "alert"
	BackendAgent = "agent"
)

// maxResponseBody bounds how much of a response is read.
const maxResponseBody = 4 << 20

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	CurrentToken() (string, bool)
}

// AuthFailureHandler is told about requests rejected as unauthenticated.
type AuthFailureHandler interface {
	HandleAuthExpired(token string)
}

// Options configure a Client.
type Options struct {
	AuthURL  string
	AlertURL string
	AgentURL string

	Timeout           time.Duration
	Breaker           BreakerSettings
	CommandsPerSecond float64

	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// OptionsFromConfig maps process configuration to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AuthURL:  cfg.Auth.URL,
		AlertURL: cfg.Alert.URL,
		AgentURL: cfg.Agent.URL,
		Timeout:  cfg.Gateway.Timeout,
		Breaker: BreakerSettings{
			MaxRequests:  cfg.Gateway.BreakerMaxRequests,
			Interval:     cfg.Gateway.BreakerInterval,
			Timeout:      cfg.Gateway.BreakerTimeout,
			FailureRatio: cfg.Gateway.BreakerFailureRatio,
			MinRequests:  cfg.Gateway.BreakerMinRequests,
		},
		CommandsPerSecond: cfg.Agent.CommandsPerSecond,
	}
}

// Client is the request gateway. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	authURL    string
	alertURL   string
	agentURL   string

	tokens    TokenSource
	onExpired AuthFailureHandler

	breakers     map[string]*breaker
	agentLimiter *rate.Limiter
}

// New creates a Client. tokens may be nil only if no authenticated call is
// ever made; onExpired may be nil.
func New(opts Options, tokens TokenSource, onExpired AuthFailureHandler) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Breaker.MaxRequests == 0 {
		opts.Breaker = DefaultBreakerSettings()
	}
	if opts.CommandsPerSecond <= 0 {
		opts.CommandsPerSecond = 2
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		authURL:    strings.TrimSuffix(opts.AuthURL, "/"),
		alertURL:   strings.TrimSuffix(opts.AlertURL, "/"),
		agentURL:   strings.TrimSuffix(opts.AgentURL, "/"),
		tokens:     tokens,
		onExpired:  onExpired,
		breakers: map[string]*breaker{
			BackendAuth:  newBreaker("gateway-"+BackendAuth, opts.Breaker),
			BackendAlert: newBreaker("gateway-"+BackendAlert, opts.Breaker),
			BackendAgent: newBreaker("gateway-"+BackendAgent, opts.Breaker),
		},
		agentLimiter: rate.NewLimiter(rate.Limit(opts.CommandsPerSecond), 1),
	}
}

// SetTokenSource installs the token source and the auth failure handler.
// It must be called before the Client is shared.
func (c *Client) SetTokenSource(tokens TokenSource, onExpired AuthFailureHandler) {
	c.tokens = tokens
	c.onExpired = onExpired
}

// BreakerStates returns the circuit state per backend.
func (c *Client) BreakerStates() map[string]string {
	out := make(map[string]string, len(c.breakers))
	for backend, b := range c.breakers {
		out[backend] = b.State()
	}
	return out
}

// request describes one backend call.
type request struct {
	backend string
	op      string
	method  string
	url     string
	body    interface{}
	out     interface{}
	public  bool // no bearer token
}

// do executes r under the backend's breaker and records metrics.
func (c *Client) do(ctx context.Context, r request) error {
	start := time.Now()
	err := c.breakers[r.backend].execute(r.op, func() error {
		return c.roundTrip(ctx, r)
	})
	metrics.RecordGatewayRequest(r.backend, r.op, resultLabel(err), time.Since(start))

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Ctx(ctx).Debug().Str("component", "gateway").Str("op", r.op).
			Str("method", r.method).Err(err).Msg("backend call failed")
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, r request) error {
	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", r.op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID(ctx))

	var token string
	if !r.public {
		var ok bool
		if c.tokens != nil {
			token, ok = c.tokens.CurrentToken()
		}
		if !ok {
			return apperr.New(apperr.AuthExpired, r.op, "not authenticated")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &apperr.Error{Kind: apperr.Unreachable, Op: r.op, Message: apperr.DefaultMessage(apperr.Unreachable), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &apperr.Error{Kind: apperr.Unreachable, Op: r.op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := apperr.ParseServerError(resp.StatusCode, http.StatusText(resp.StatusCode), raw)
		e.Op = r.op
		if e.Kind == apperr.AuthExpired && !r.public && c.onExpired != nil {
			c.onExpired.HandleAuthExpired(token)
		}
		return e
	}

	if r.out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, r.out); err != nil {
		return &apperr.Error{Kind: apperr.ServerError, Op: r.op, Status: resp.StatusCode, Message: "malformed server response", Err: err}
	}
	return nil
}

func requestID(ctx context.Context) string {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return logging.GenerateRequestID()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return apperr.KindOf(err).String()
	}
}
