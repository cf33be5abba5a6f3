// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points CONFIG_PATH at a file that does not exist so a config.yaml in
// the working directory cannot leak into the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	orig := DefaultConfigPaths
	DefaultConfigPaths = nil
	t.Cleanup(func() { DefaultConfigPaths = orig })
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Push.URL != "ws://localhost:8080/alert/ws/websocket" {
		t.Errorf("Push.URL = %q", cfg.Push.URL)
	}
	if cfg.Push.ReconnectDelay != 5*time.Second {
		t.Errorf("Push.ReconnectDelay = %v, want 5s", cfg.Push.ReconnectDelay)
	}
	if cfg.Push.HeartbeatOutgoing != 20*time.Second {
		t.Errorf("Push.HeartbeatOutgoing = %v, want 20s", cfg.Push.HeartbeatOutgoing)
	}
	if cfg.History.DebounceInterval != 300*time.Millisecond {
		t.Errorf("History.DebounceInterval = %v, want 300ms", cfg.History.DebounceInterval)
	}
	if cfg.Agent.URL != "http://localhost:5000" {
		t.Errorf("Agent.URL = %q", cfg.Agent.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.URL != "http://localhost:8080/auth" {
		t.Errorf("Auth.URL = %q", cfg.Auth.URL)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("AUTH_URL", "https://auth.example.com/auth")
	t.Setenv("PUSH_URL", "wss://push.example.com/alert/ws/websocket")
	t.Setenv("RECONNECT_DELAY", "2s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("SESSION_TOKEN_STORE", "memory")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.URL != "https://auth.example.com/auth" {
		t.Errorf("Auth.URL = %q", cfg.Auth.URL)
	}
	if cfg.Push.ReconnectDelay != 2*time.Second {
		t.Errorf("Push.ReconnectDelay = %v, want 2s", cfg.Push.ReconnectDelay)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.local" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Session.TokenStore != "memory" {
		t.Errorf("Session.TokenStore = %q", cfg.Session.TokenStore)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
alert:
  url: http://alerts.internal:8080/alert
history:
  default_page_size: 25
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Alert.URL != "http://alerts.internal:8080/alert" {
		t.Errorf("Alert.URL = %q", cfg.Alert.URL)
	}
	if cfg.History.DefaultPageSize != 25 {
		t.Errorf("History.DefaultPageSize = %d", cfg.History.DefaultPageSize)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("env should override file, Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"http push url", func(c *Config) { c.Push.URL = "http://localhost:8080/ws" }, "ws or wss"},
		{"missing auth url", func(c *Config) { c.Auth.URL = "" }, "url"},
		{"zero reconnect delay", func(c *Config) { c.Push.ReconnectDelay = 0 }, "reconnect_delay"},
		{"unknown token store", func(c *Config) { c.Session.TokenStore = "redis" }, "token_store"},
		{"badger without path", func(c *Config) { c.Session.TokenStorePath = "" }, "token_store_path"},
		{"relay without url", func(c *Config) { c.Relay.Enabled = true; c.Relay.URL = "" }, "url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should mention %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	if got := envTransformFunc("PUSH_URL"); got != "push.url" {
		t.Errorf("PUSH_URL -> %q", got)
	}
	if got := envTransformFunc("HOME"); got != "" {
		t.Errorf("HOME -> %q, want empty", got)
	}
}
