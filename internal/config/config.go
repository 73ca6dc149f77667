// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the gateway configuration.
//
// Configuration is read once at startup from a TOML or JSON file and is
// immutable thereafter. Every field has a default; a missing file yields the
// defaults, but a file that exists and fails to parse is an error.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/flowgate/internal/flow"
)

// =============================================================================
// TYPES
// =============================================================================

// Config is the root configuration object.
type Config struct {
	API      APIConfig      `toml:"api" json:"api"`
	Security SecurityConfig `toml:"security" json:"security"`
	Session  SessionConfig  `toml:"session" json:"session"`
	Server   ServerConfig   `toml:"server" json:"server"`
}

// APIConfig describes the upstream flow endpoints.
type APIConfig struct {
	// Endpoints maps conversation keys to flow URLs. Must cover every
	// conversation key.
	Endpoints map[string]string `toml:"endpoints" json:"endpoints"`
	Timeouts  TimeoutConfig     `toml:"timeouts" json:"timeouts"`
	Auth      AuthConfig        `toml:"auth" json:"auth"`
}

// TimeoutConfig holds upstream timeouts in seconds.
type TimeoutConfig struct {
	Connect float64 `toml:"connect" json:"connect"`
	Read    float64 `toml:"read" json:"read"`
}

// AuthConfig holds the optional upstream API key.
type AuthConfig struct {
	Key string `toml:"key" json:"key"`
}

// SecurityConfig tunes the per-user rate limiter.
type SecurityConfig struct {
	MaxRequestsPerMinute int `toml:"max_requests_per_minute" json:"max_requests_per_minute"`
}

// SessionConfig tunes session lifetime.
type SessionConfig struct {
	TimeoutMinutes int `toml:"timeout_minutes" json:"timeout_minutes"`
}

// ServerConfig configures the HTTP front.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// GlobalRatePerSecond and GlobalBurst bound total request throughput
	// across all sessions, ahead of the per-user limiter.
	GlobalRatePerSecond float64 `toml:"global_rate_per_second" json:"global_rate_per_second"`
	GlobalBurst         int     `toml:"global_burst" json:"global_burst"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults. Endpoints are empty and must
// come from the file.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Endpoints: make(map[string]string),
			Timeouts: TimeoutConfig{
				Connect: 10.0,
				Read:    300.0,
			},
		},
		Security: SecurityConfig{
			MaxRequestsPerMinute: 20,
		},
		Session: SessionConfig{
			TimeoutMinutes: 60,
		},
		Server: ServerConfig{
			Addr:                ":8080",
			GlobalRatePerSecond: 50,
			GlobalBurst:         100,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, layered over the defaults. The format
// is chosen by extension: .json is JSON, everything else is TOML. A missing
// file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks the loaded configuration. The endpoint map must cover
// every conversation key so a missing flow URL is caught at startup rather
// than mid-turn.
func (c *Config) Validate() error {
	for _, key := range flow.ConversationKeys {
		if c.API.Endpoints[key] == "" {
			return fmt.Errorf("configuration error: api.endpoints missing conversation %q", key)
		}
	}
	if c.API.Timeouts.Connect <= 0 {
		return fmt.Errorf("configuration error: api.timeouts.connect must be positive")
	}
	if c.API.Timeouts.Read <= 0 {
		return fmt.Errorf("configuration error: api.timeouts.read must be positive")
	}
	if c.Security.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("configuration error: security.max_requests_per_minute must be positive")
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("configuration error: session.timeout_minutes must be positive")
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ConnectTimeout returns the upstream connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Connect * float64(time.Second))
}

// ReadTimeout returns the upstream read timeout as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read * float64(time.Second))
}

// SessionTimeout returns the session inactivity timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}
