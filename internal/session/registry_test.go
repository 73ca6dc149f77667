// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flowgate/internal/security"
)

func newTestRegistry(t *testing.T, timeout time.Duration) (*Registry, *time.Time) {
	t.Helper()

	registry, err := NewRegistry(timeout)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }
	return registry, &now
}

func TestRegistry_EnsureCreatesSession(t *testing.T) {
	registry, _ := newTestRegistry(t, DefaultTimeout)

	sess, created := registry.Ensure("")
	require.True(t, created)
	require.NotNil(t, sess)

	// Token carries at least 128 bits of entropy (we use 256 = 64 hex chars).
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), sess.Token)
	assert.Regexp(t, regexp.MustCompile(`^sess_[0-9a-f]{12}$`), sess.ID)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), sess.UserID)
	assert.NotEmpty(t, sess.IntegrityMarker)
	assert.Equal(t, sess.CreatedAt, sess.LastActivity)
}

func TestRegistry_EnsureIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t, DefaultTimeout)

	first, created := registry.Ensure("")
	require.True(t, created)

	second, created := registry.Ensure(first.Token)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, first.UserID, second.UserID, "user ID never changes for a live session")
}

func TestRegistry_ExpiryBoundary(t *testing.T) {
	registry, now := newTestRegistry(t, 60*time.Minute)

	sess, _ := registry.Ensure("")

	// Exactly at the timeout the session is still live.
	*now = now.Add(60 * time.Minute)
	assert.False(t, registry.Expired(sess.Token))

	// Strictly past the timeout it expires.
	*now = now.Add(time.Second)
	assert.True(t, registry.Expired(sess.Token))

	// The next Ensure mints fresh identifiers.
	replacement, created := registry.Ensure(sess.Token)
	assert.True(t, created)
	assert.NotEqual(t, sess.Token, replacement.Token)
	assert.NotEqual(t, sess.ID, replacement.ID)
}

func TestRegistry_TouchKeepsSessionAlive(t *testing.T) {
	registry, now := newTestRegistry(t, 60*time.Minute)

	sess, _ := registry.Ensure("")

	*now = now.Add(45 * time.Minute)
	registry.Touch(sess.Token)

	*now = now.Add(45 * time.Minute)
	assert.False(t, registry.Expired(sess.Token), "touched session should survive")

	_, created := registry.Ensure(sess.Token)
	assert.False(t, created)
}

func TestRegistry_Valid(t *testing.T) {
	registry, now := newTestRegistry(t, DefaultTimeout)

	sess, _ := registry.Ensure("")
	assert.True(t, registry.Valid(sess.Token))

	// A tampered marker fails validation.
	registry.mu.Lock()
	sess.IntegrityMarker = "0000"
	registry.mu.Unlock()
	assert.False(t, registry.Valid(sess.Token))

	// A session older than 24h fails validation even if not idle-expired.
	fresh, _ := registry.Ensure("")
	*now = now.Add(25 * time.Hour)
	assert.False(t, registry.Valid(fresh.Token))

	assert.False(t, registry.Valid("no-such-token"))
}

func TestRegistry_ClearIssuesFreshIdentifiers(t *testing.T) {
	registry, _ := newTestRegistry(t, DefaultTimeout)

	sess, _ := registry.Ensure("")
	registry.mu.Lock()
	sess.UIState["page"] = "research"
	sess.UIState["theme"] = "dark" // not whitelisted
	registry.mu.Unlock()

	replacement := registry.Clear(sess.Token)

	assert.NotEqual(t, sess.Token, replacement.Token)
	assert.NotEqual(t, sess.ID, replacement.ID)
	assert.NotEqual(t, sess.UserID, replacement.UserID)
	assert.Equal(t, "research", replacement.UIState["page"], "whitelisted UI state survives clear")
	assert.NotContains(t, replacement.UIState, "theme")

	// The old token no longer resolves.
	_, created := registry.Ensure(sess.Token)
	assert.True(t, created)
}

func TestRegistry_ClearPreservesDebugFlag(t *testing.T) {
	registry, _ := newTestRegistry(t, DefaultTimeout)

	sess, _ := registry.Ensure("")
	registry.SetDebug(sess.Token, true)

	replacement := registry.Clear(sess.Token)
	assert.Equal(t, "true", replacement.UIState[UIDebugKey])

	// Detail retention carries over to the fresh event log.
	replacement.Events.Record("marker", "info", replacement.ID, replacement.UserID, "kept")
	events := replacement.Events.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "kept", events[len(events)-1].Detail)
}

func TestRegistry_Info(t *testing.T) {
	registry, now := newTestRegistry(t, DefaultTimeout)

	sess, _ := registry.Ensure("")
	*now = now.Add(30 * time.Minute)

	info := registry.Info(sess.Token)
	assert.Len(t, info.SessionIDPrefix, 8)
	assert.Equal(t, 30, info.AgeMinutes)
	assert.Equal(t, 30, info.IdleMinutes)
	assert.True(t, info.Valid)

	assert.Equal(t, Info{}, registry.Info("unknown"))
}

func TestRegistry_BeginTurnSerialises(t *testing.T) {
	registry, _ := newTestRegistry(t, DefaultTimeout)

	sess, _ := registry.Ensure("")

	require.True(t, registry.BeginTurn(sess.Token))
	assert.False(t, registry.BeginTurn(sess.Token), "second concurrent turn must be refused")

	registry.EndTurn(sess.Token)
	assert.True(t, registry.BeginTurn(sess.Token))

	assert.False(t, registry.BeginTurn("unknown"))
}

func TestRegistry_EvictExpiredReclaimsAbandonedSessions(t *testing.T) {
	registry, now := newTestRegistry(t, time.Minute)

	var purged []string
	registry.OnEvict(func(token string) { purged = append(purged, token) })

	// Token-less callers mint a fresh session per request.
	for i := 0; i < 1000; i++ {
		registry.Ensure("")
	}
	*now = now.Add(2 * time.Hour)
	survivor, _ := registry.Ensure("")

	assert.Equal(t, 1000, registry.evictExpired())
	assert.Len(t, purged, 1000)

	registry.mu.Lock()
	live := len(registry.sessions)
	registry.mu.Unlock()
	assert.Equal(t, 1, live, "only the fresh session survives the sweep")

	_, created := registry.Ensure(survivor.Token)
	assert.False(t, created)
}

func TestRegistry_EnsureNotifiesEvictHookOnExpiry(t *testing.T) {
	registry, now := newTestRegistry(t, time.Minute)

	var purged []string
	registry.OnEvict(func(token string) { purged = append(purged, token) })

	sess, _ := registry.Ensure("")
	*now = now.Add(2 * time.Minute)

	replacement, created := registry.Ensure(sess.Token)
	require.True(t, created)
	assert.NotEqual(t, sess.Token, replacement.Token)
	assert.Equal(t, []string{sess.Token}, purged)

	// The expiry lands in the outgoing session's event log.
	events := sess.Events.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, security.EventSessionExpired, events[len(events)-1].Kind)
}

func TestRegistry_EvictExpiredKeepsActiveSessions(t *testing.T) {
	registry, now := newTestRegistry(t, time.Minute)

	idle, _ := registry.Ensure("")
	active, _ := registry.Ensure("")

	*now = now.Add(45 * time.Second)
	registry.Touch(active.Token)
	*now = now.Add(30 * time.Second)

	assert.Equal(t, 1, registry.evictExpired())

	_, created := registry.Ensure(active.Token)
	assert.False(t, created, "touched session must survive the sweep")
	_, created = registry.Ensure(idle.Token)
	assert.True(t, created, "idle session must have been evicted")
}

func TestRegistry_ConcurrentEnsure(t *testing.T) {
	registry, err := NewRegistry(DefaultTimeout)
	require.NoError(t, err)

	var wg sync.WaitGroup
	tokens := make(chan string, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, _ := registry.Ensure("")
			tokens <- sess.Token
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for token := range tokens {
		assert.False(t, seen[token], "duplicate session token minted")
		seen[token] = true
	}
}
