// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks anonymous browser sessions for the chat gateway.
//
// Each session is keyed by an opaque high-entropy token that the host layer
// threads through on every call. Sessions carry a short displayable ID, a
// stable 16-hex-character user ID, activity timestamps, an integrity marker,
// a per-session security event log, and a small UI-state map that survives
// explicit clears.
//
// Integrity markers are HMAC-SHA256 values over the immutable session
// fields, keyed by a per-process secret derived with HKDF. A marker proves a
// session record was minted by this process and has not been tampered with;
// it deliberately does not survive restarts, since no session does either.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/jeranaias/flowgate/internal/security"
	"github.com/jeranaias/flowgate/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout expires a session after an hour of inactivity.
	DefaultTimeout = 60 * time.Minute

	// MaxSessionAge is the absolute bound on session age accepted by Valid.
	MaxSessionAge = 24 * time.Hour

	// tokenBytes gives 256 bits of entropy per session token.
	tokenBytes = 32

	// sessionIDBytes gives the short displayable session ID (12 hex chars).
	sessionIDBytes = 6

	// userIDLength is the length of the derived user identifier in hex chars.
	userIDLength = 16
)

// UIStateWhitelist lists the UI-state keys preserved across Clear.
var UIStateWhitelist = []string{"page", "debug"}

// UIDebugKey is the UI-state key controlling security log detail retention.
const UIDebugKey = "debug"

// =============================================================================
// SESSION
// =============================================================================

// Session is one anonymous browser session. Token and UserID never change
// for the life of the session; LastActivity is monotonically non-decreasing.
// All fields are guarded by the owning Registry's mutex.
type Session struct {
	Token           string
	ID              string
	UserID          string
	CreatedAt       time.Time
	LastActivity    time.Time
	IntegrityMarker string

	// Events is this session's bounded security log.
	Events *security.EventLog

	// UIState holds host-layer presentation state ("page", "debug").
	UIState map[string]string

	// processing serialises turns within the session.
	processing bool
}

// Info is the host-facing session summary.
type Info struct {
	SessionIDPrefix string `json:"session_id_prefix"`
	AgeMinutes      int    `json:"age_minutes"`
	IdleMinutes     int    `json:"idle_minutes"`
	Valid           bool   `json:"valid"`
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry owns all live sessions for the process. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration

	// integrityKey is derived once from a process secret via HKDF.
	integrityKey []byte

	// onEvict, when set, is called with the token of every session the
	// registry destroys through expiry, so owners of per-token state can
	// release it.
	onEvict func(token string)

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates a registry with the given inactivity timeout.
// A non-positive timeout falls back to DefaultTimeout.
func NewRegistry(timeout time.Duration) (*Registry, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate process secret: %w", err)
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("flowgate session integrity"))
	if _, err := kdf.Read(key); err != nil {
		return nil, fmt.Errorf("failed to derive integrity key: %w", err)
	}

	r := &Registry{
		sessions:     make(map[string]*Session),
		timeout:      timeout,
		integrityKey: key,
		now:          time.Now,
	}
	go r.sweep()
	return r, nil
}

// OnEvict registers fn to receive the token of every session destroyed
// through expiry. fn runs with the registry lock held and must not call
// back into the registry.
func (r *Registry) OnEvict(fn func(token string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// Ensure returns the live session for token, creating a fresh one when the
// token is empty, unknown, or expired. The second return value reports
// whether a new session was created; callers should then adopt the returned
// session's Token.
func (r *Registry) Ensure(token string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok {
		if !r.expired(sess) {
			return sess, false
		}
		// Expired sessions are destroyed and replaced with fresh identifiers.
		r.destroyExpired(token, sess)
	}

	sess := r.create(nil)
	return sess, true
}

// Touch advances LastActivity for the session. Unknown tokens are ignored.
func (r *Registry) Touch(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok {
		now := r.now()
		if now.After(sess.LastActivity) {
			sess.LastActivity = now
		}
	}
}

// Expired reports whether the session for token has been idle longer than
// the registry timeout. Unknown tokens count as expired.
func (r *Registry) Expired(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return true
	}
	return r.expired(sess)
}

// Valid reports whether the session exists, carries all required fields, is
// no older than MaxSessionAge, and has an intact integrity marker.
func (r *Registry) Valid(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return false
	}

	if sess.Token == "" || sess.ID == "" || sess.UserID == "" || sess.CreatedAt.IsZero() {
		return false
	}

	age := r.now().Sub(sess.CreatedAt)
	if age < 0 || age > MaxSessionAge {
		return false
	}

	expected := r.marker(sess)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sess.IntegrityMarker)) == 1
}

// Clear destroys the session for token, preserving only whitelisted UI-state
// keys, and returns a replacement session with fresh identifiers.
func (r *Registry) Clear(token string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	preserved := make(map[string]string)
	if old, ok := r.sessions[token]; ok {
		for _, key := range UIStateWhitelist {
			if value, present := old.UIState[key]; present {
				preserved[key] = value
			}
		}
		old.Events.Record(security.EventSessionCleared, security.SeverityInfo, old.ID, old.UserID, "")
		delete(r.sessions, token)
	}

	return r.create(preserved)
}

// Info returns the host-facing summary for token. Unknown tokens yield a
// zero Info with Valid=false.
func (r *Registry) Info(token string) Info {
	r.mu.Lock()
	sess, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return Info{}
	}

	now := r.now()
	info := Info{
		SessionIDPrefix: util.Prefix(sess.ID, 8),
		AgeMinutes:      int(now.Sub(sess.CreatedAt).Minutes()),
		IdleMinutes:     int(now.Sub(sess.LastActivity).Minutes()),
	}
	r.mu.Unlock()

	info.Valid = r.Valid(token)
	return info
}

// SetDebug toggles debug mode for the session: the flag is mirrored into
// UI state so it survives Clear, and the event log starts or stops
// retaining detail.
func (r *Registry) SetDebug(token string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return
	}
	if enabled {
		sess.UIState[UIDebugKey] = "true"
	} else {
		delete(sess.UIState, UIDebugKey)
	}
	sess.Events.SetDebug(enabled)
}

// =============================================================================
// TURN SERIALISATION
// =============================================================================

// BeginTurn marks the session as processing a turn. It returns false when a
// turn is already in flight, or the token is unknown.
func (r *Registry) BeginTurn(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok || sess.processing {
		return false
	}
	sess.processing = true
	return true
}

// EndTurn releases the processing flag set by BeginTurn.
func (r *Registry) EndTurn(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok {
		sess.processing = false
	}
}

// =============================================================================
// EXPIRY
// =============================================================================

// minSweepInterval bounds how often the background sweep runs even when the
// configured timeout is very short.
const minSweepInterval = time.Minute

// sweep periodically evicts idle-expired sessions so abandoned tokens do
// not accumulate. Expiry is still enforced eagerly on every Ensure; the
// sweep reclaims sessions whose tokens are never presented again.
func (r *Registry) sweep() {
	interval := r.timeout
	if interval < minSweepInterval {
		interval = minSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		r.evictExpired()
	}
}

// evictExpired destroys every idle-expired session and returns how many
// were evicted.
func (r *Registry) evictExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for token, sess := range r.sessions {
		if r.expired(sess) {
			r.destroyExpired(token, sess)
			evicted++
		}
	}
	return evicted
}

// destroyExpired records the expiry, removes the session, and notifies the
// evict hook. Callers must hold r.mu.
func (r *Registry) destroyExpired(token string, sess *Session) {
	sess.Events.Record(security.EventSessionExpired, security.SeverityInfo, sess.ID, sess.UserID, "")
	delete(r.sessions, token)
	if r.onEvict != nil {
		r.onEvict(token)
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

// expired reports inactivity strictly beyond the timeout.
// Callers must hold r.mu.
func (r *Registry) expired(sess *Session) bool {
	return r.now().Sub(sess.LastActivity) > r.timeout
}

// create mints a session with fresh identifiers and registers it.
// Callers must hold r.mu.
func (r *Registry) create(uiState map[string]string) *Session {
	now := r.now()
	token := randomHex(tokenBytes)

	if uiState == nil {
		uiState = make(map[string]string)
	}

	sess := &Session{
		Token:        token,
		ID:           "sess_" + randomHex(sessionIDBytes),
		UserID:       deriveUserID(token, now),
		CreatedAt:    now,
		LastActivity: now,
		Events:       security.NewEventLog(security.DefaultEventCapacity),
		UIState:      uiState,
	}
	sess.IntegrityMarker = r.marker(sess)

	if uiState[UIDebugKey] == "true" {
		sess.Events.SetDebug(true)
	}

	r.sessions[token] = sess
	sess.Events.Record(security.EventSessionCreated, security.SeverityInfo, sess.ID, sess.UserID, "")
	return sess
}

// marker computes the integrity HMAC over the immutable session fields.
func (r *Registry) marker(sess *Session) string {
	mac := hmac.New(sha256.New, r.integrityKey)
	fmt.Fprintf(mac, "%s|%s|%d", sess.Token, sess.UserID, sess.CreatedAt.UnixNano())
	return hex.EncodeToString(mac.Sum(nil))
}

// randomHex returns n bytes of cryptographic randomness as hex.
func randomHex(n int) string {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand failure means the platform RNG is broken; identifiers
		// cannot be minted safely.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}

// deriveUserID hashes mixed entropy sources down to a 16-hex-char ID.
func deriveUserID(token string, created time.Time) string {
	hash := sha256.New()
	fmt.Fprintf(hash, "%s|%d|%s", token, created.UnixNano(), randomHex(8))
	return hex.EncodeToString(hash.Sum(nil))[:userIDLength]
}
