// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"sync"
	"time"

	"github.com/jeranaias/flowgate/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultEventCapacity is the per-session security event ring capacity.
const DefaultEventCapacity = 100

// MaxDetailLength limits retained free-form detail per event.
const MaxDetailLength = 100

// idPrefixLength is how many characters of session/user IDs are retained.
const idPrefixLength = 8

// Severity levels for security events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event kinds recorded by the gateway.
const (
	EventXSSAttempt          = "xss_attempt"
	EventSQLInjectionAttempt = "sql_injection_attempt"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventAPITimeout          = "api_timeout"
	EventAPIConnectionError  = "api_connection_error"
	EventAPIHTTPError        = "api_http_error"
	EventAPIDecodeError      = "api_decode_error"
	EventUnexpectedError     = "unexpected_error"
	EventSessionCreated      = "session_created"
	EventSessionCleared      = "session_cleared"
	EventSessionExpired      = "session_expired"
)

// =============================================================================
// SECURITY EVENT
// =============================================================================

// Event is one entry in the security log. Identifiers are stored as
// 8-character prefixes only; Detail is empty unless debug mode was on when
// the event was recorded.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Severity  Severity  `json:"severity"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Detail    string    `json:"detail,omitempty"`
}

// =============================================================================
// EVENT LOG
// =============================================================================

// EventLog is a bounded in-memory ring of security events. The zero value is
// not usable; construct with NewEventLog. Record is safe for concurrent use.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	debug    bool
	events   []Event

	// now is swappable for tests.
	now func() time.Time
}

// NewEventLog creates an event log with the given capacity.
// A capacity of zero or less falls back to DefaultEventCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventLog{
		capacity: capacity,
		events:   make([]Event, 0, capacity),
		now:      time.Now,
	}
}

// SetDebug toggles retention of event detail. When off (the default),
// detail is dropped at record time, not merely hidden.
func (l *EventLog) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = enabled
}

// Record appends an event, evicting the oldest entry when full.
func (l *EventLog) Record(kind string, severity Severity, sessionID, userID, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		Timestamp: l.now(),
		Kind:      kind,
		Severity:  severity,
		SessionID: util.Prefix(sessionID, idPrefixLength),
		UserID:    util.Prefix(userID, idPrefixLength),
	}
	if l.debug && detail != "" {
		event.Detail = util.TruncateRunesNoEllipsis(detail, MaxDetailLength)
	}

	if len(l.events) >= l.capacity {
		// Evict oldest first.
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
}

// Events returns a copy of the logged events, oldest first.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary aggregates the event log for reporting.
type Summary struct {
	Total    int            `json:"total"`
	LastHour int            `json:"last_hour"`
	ByKind   map[string]int `json:"by_kind"`
}

// Summarize returns totals, the count of events in the trailing hour, and
// per-kind counts.
func (l *EventLog) Summarize() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := Summary{
		Total:  len(l.events),
		ByKind: make(map[string]int),
	}

	hourAgo := l.now().Add(-time.Hour)
	for _, event := range l.events {
		summary.ByKind[event.Kind]++
		if event.Timestamp.After(hourAgo) {
			summary.LastHour++
		}
	}
	return summary
}
