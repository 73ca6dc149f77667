// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10.0, cfg.API.Timeouts.Connect)
	assert.Equal(t, 300.0, cfg.API.Timeouts.Read)
	assert.Equal(t, 20, cfg.Security.MaxRequestsPerMinute)
	assert.Equal(t, 60, cfg.Session.TimeoutMinutes)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.API.Endpoints)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "flowgate.toml", `
[api.endpoints]
general = "https://flows.example.com/general"
research = "https://flows.example.com/research"
support = "https://flows.example.com/support"

[api.timeouts]
connect = 5.0
read = 120.0

[api.auth]
key = "secret-key"

[security]
max_requests_per_minute = 5

[session]
timeout_minutes = 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://flows.example.com/general", cfg.API.Endpoints["general"])
	assert.Equal(t, "secret-key", cfg.API.Auth.Key)
	assert.Equal(t, 5, cfg.Security.MaxRequestsPerMinute)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 2*time.Minute, cfg.ReadTimeout())
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())

	// Unset sections keep their defaults.
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "flowgate.json", `{
  "api": {
    "endpoints": {
      "general": "https://flows.example.com/general",
      "research": "https://flows.example.com/research",
      "support": "https://flows.example.com/support"
    }
  }
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://flows.example.com/support", cfg.API.Endpoints["support"])
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeFile(t, "broken.toml", "[api\nnot toml")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate_MissingEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Endpoints = map[string]string{
		"general":  "https://flows.example.com/general",
		"research": "https://flows.example.com/research",
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
	assert.Contains(t, err.Error(), "support")
}

func TestValidate_BadTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	for _, key := range []string{"general", "research", "support"} {
		cfg.API.Endpoints[key] = "https://flows.example.com/" + key
	}
	cfg.API.Timeouts.Read = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.timeouts.read")
}
