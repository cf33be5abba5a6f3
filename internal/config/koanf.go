// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/safevision/config.yaml",
	"/etc/safevision/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// sliceConfigPaths are accepted as comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func defaultConfig() *Config {
	return &Config{
		Auth:  AuthConfig{URL: "http://localhost:8080/auth"},
		Alert: AlertConfig{URL: "http://localhost:8080/alert"},
		Agent: AgentConfig{
			URL:                 "http://localhost:5000",
			CommandsPerSecond:   2,
			StreamProbeInterval: 15 * time.Second,
			StreamProbeTimeout:  5 * time.Second,
		},
		Push: PushConfig{
			URL:               "ws://localhost:8080/alert/ws/websocket",
			ReconnectDelay:    5 * time.Second,
			HeartbeatOutgoing: 20 * time.Second,
			HeartbeatIncoming: 0,
			DedupTTL:          10 * time.Minute,
			DedupCapacity:     4096,
			WatcherBuffer:     64,
		},
		Session: SessionConfig{
			Interactive:    true,
			TokenStore:     "badger",
			TokenStorePath: "/data/safevision/session",
		},
		History: HistoryConfig{
			DebounceInterval: 300 * time.Millisecond,
			DefaultPageSize:  10,
			RecentLimit:      50,
		},
		Gateway: GatewayConfig{
			Timeout:             15 * time.Second,
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      30 * time.Second,
			BreakerFailureRatio: 0.6,
			BreakerMinRequests:  10,
		},
		Relay: RelayConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "safevision.alerts",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            4300,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"http://localhost:4200"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, file and environment and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PUSH_URL -> push.url, RECONNECT_DELAY -> push.reconnect_delay
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FilePath returns the configuration file Load reads, or "" when none exists.
func FilePath() string {
	return findConfigFile()
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	// Backends
	"auth_url":  "auth.url",
	"alert_url": "alert.url",
	"agent_url": "agent.url",
	"push_url":  "push.url",

	// Device agent
	"agent_commands_per_second":   "agent.commands_per_second",
	"agent_stream_probe_interval": "agent.stream_probe_interval",
	"agent_stream_probe_timeout":  "agent.stream_probe_timeout",

	// Live alert channel
	"reconnect_delay":         "push.reconnect_delay",
	"push_heartbeat_outgoing": "push.heartbeat_outgoing",
	"push_heartbeat_incoming": "push.heartbeat_incoming",
	"push_dedup_ttl":          "push.dedup_ttl",
	"push_dedup_capacity":     "push.dedup_capacity",
	"push_watcher_buffer":     "push.watcher_buffer",

	// Session
	"session_interactive":      "session.interactive",
	"session_token_store":      "session.token_store",
	"session_token_store_path": "session.token_store_path",
	"jwt_secret":               "session.jwt_secret",

	// History
	"history_debounce_interval": "history.debounce_interval",
	"history_default_page_size": "history.default_page_size",
	"history_recent_limit":      "history.recent_limit",

	// Gateway
	"gateway_timeout":               "gateway.timeout",
	"gateway_breaker_max_requests":  "gateway.breaker_max_requests",
	"gateway_breaker_interval":      "gateway.breaker_interval",
	"gateway_breaker_timeout":       "gateway.breaker_timeout",
	"gateway_breaker_failure_ratio": "gateway.breaker_failure_ratio",
	"gateway_breaker_min_requests":  "gateway.breaker_min_requests",

	// Relay
	"relay_enabled":        "relay.enabled",
	"nats_url":             "relay.url",
	"relay_subject_prefix": "relay.subject_prefix",

	// Control API
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps known environment variables to koanf paths.
// Unknown variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file at path changes.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
