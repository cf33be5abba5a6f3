// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package config loads SafeVision configuration from struct defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/safevision/internal/validation"
)

// Config is the complete process configuration.
type Config struct {
	Auth    AuthConfig    `koanf:"auth"`
	Alert   AlertConfig   `koanf:"alert"`
	Agent   AgentConfig   `koanf:"agent"`
	Push    PushConfig    `koanf:"push"`
	Session SessionConfig `koanf:"session"`
	History HistoryConfig `koanf:"history"`
	Gateway GatewayConfig `koanf:"gateway"`
	Relay   RelayConfig   `koanf:"relay"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// AuthConfig locates the auth backend (login, register, profile, device config).
type AuthConfig struct {
	URL string `koanf:"url" validate:"required,url"`
}

// AlertConfig locates the alert backend (history, recent, acknowledge).
type AlertConfig struct {
	URL string `koanf:"url" validate:"required,url"`
}

// AgentConfig locates the device agent (toggle and video stream).
type AgentConfig struct {
	URL string `koanf:"url" validate:"required,url"`

	// CommandsPerSecond limits toggle calls to the agent. Burst is 1.
	CommandsPerSecond float64 `koanf:"commands_per_second" validate:"gt=0"`

	// StreamProbeInterval is how often the stream watchdog checks the video
	// stream while armed. Zero disables the watchdog.
	StreamProbeInterval time.Duration `koanf:"stream_probe_interval" validate:"gte=0"`

	// StreamProbeTimeout bounds a single probe.
	StreamProbeTimeout time.Duration `koanf:"stream_probe_timeout" validate:"gte=0"`
}

// PushConfig configures the live alert channel.
type PushConfig struct {
	// URL is the WebSocket endpoint speaking STOMP, e.g. ws://host/alert/ws/websocket.
	URL string `koanf:"url" validate:"required,url"`

	// ReconnectDelay is the fixed wait after an unintended disconnect.
	ReconnectDelay time.Duration `koanf:"reconnect_delay" validate:"gt=0"`

	// HeartbeatOutgoing is the client heart-beat interval offered in CONNECT.
	HeartbeatOutgoing time.Duration `koanf:"heartbeat_outgoing" validate:"gte=0"`

	// HeartbeatIncoming is the server heart-beat interval requested in CONNECT.
	HeartbeatIncoming time.Duration `koanf:"heartbeat_incoming" validate:"gte=0"`

	// DedupTTL is how long a delivered alert id suppresses redeliveries.
	DedupTTL time.Duration `koanf:"dedup_ttl" validate:"gt=0"`

	// DedupCapacity bounds the number of remembered alert ids.
	DedupCapacity int `koanf:"dedup_capacity" validate:"gt=0"`

	// WatcherBuffer is the per-watcher channel capacity; events beyond it queue.
	WatcherBuffer int `koanf:"watcher_buffer" validate:"gt=0"`
}

// SessionConfig configures token handling and storage.
type SessionConfig struct {
	// Interactive enables token restore from storage at start. A
	// non-interactive process never touches token storage on start.
	Interactive bool `koanf:"interactive"`

	// TokenStore is "badger" (persistent) or "memory".
	TokenStore string `koanf:"token_store" validate:"oneof=badger memory"`

	// TokenStorePath is the Badger directory when TokenStore is badger.
	TokenStorePath string `koanf:"token_store_path"`

	// JWTSecret, when set, enables HS256 signature verification of tokens.
	// When empty, claims are read without verification.
	JWTSecret string `koanf:"jwt_secret"`
}

// HistoryConfig configures the alert history store.
type HistoryConfig struct {
	DebounceInterval time.Duration `koanf:"debounce_interval" validate:"gte=0"`
	DefaultPageSize  int           `koanf:"default_page_size" validate:"gte=1,lte=200"`
	RecentLimit      int           `koanf:"recent_limit" validate:"gte=1"`
}

// GatewayConfig configures outbound HTTP and circuit breaking.
type GatewayConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests" validate:"gte=1"`
	BreakerInterval     time.Duration `koanf:"breaker_interval" validate:"gte=0"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio" validate:"gt=0,lte=1"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests" validate:"gte=1"`
}

// RelayConfig configures the optional NATS republisher.
type RelayConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url" validate:"required_if=Enabled true"`
	SubjectPrefix string `koanf:"subject_prefix" validate:"required_if=Enabled true"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	Caller bool `koanf:"caller"`
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	u, err := url.Parse(c.Push.URL)
	if err != nil {
		return fmt.Errorf("push.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("push.url must use ws or wss, got %q", u.Scheme)
	}

	if c.Session.TokenStore == "badger" && c.Session.TokenStorePath == "" {
		return fmt.Errorf("session.token_store_path is required for the badger token store")
	}
	return nil
}
