// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_RecordAndPrefixes(t *testing.T) {
	log := NewEventLog(10)
	log.Record(EventXSSAttempt, SeverityWarning, "sess_abcdef123456", "0123456789abcdef", "ignored detail")

	events := log.Events()
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, EventXSSAttempt, event.Kind)
	assert.Equal(t, SeverityWarning, event.Severity)
	assert.Equal(t, "sess_abc", event.SessionID, "session ID should be reduced to 8 characters")
	assert.Equal(t, "01234567", event.UserID, "user ID should be reduced to 8 characters")
	assert.Empty(t, event.Detail, "detail must be dropped when debug is off")
}

func TestEventLog_DebugDetail(t *testing.T) {
	log := NewEventLog(10)
	log.SetDebug(true)

	longDetail := strings.Repeat("x", 250)
	log.Record(EventAPITimeout, SeverityError, "sess_1", "user_1", longDetail)

	events := log.Events()
	require.Len(t, events, 1)
	assert.Len(t, events[0].Detail, MaxDetailLength, "detail should be truncated to 100 characters")
}

func TestEventLog_BoundedEviction(t *testing.T) {
	log := NewEventLog(5)
	for i := 0; i < 8; i++ {
		kind := EventRateLimitExceeded
		if i >= 5 {
			kind = EventAPITimeout
		}
		log.Record(kind, SeverityInfo, "sess", "user", "")
	}

	events := log.Events()
	require.Len(t, events, 5, "ring must stay at capacity")

	// The three newest events are the api_timeout ones; the oldest
	// rate_limit entries were evicted first.
	assert.Equal(t, EventRateLimitExceeded, events[0].Kind)
	assert.Equal(t, EventAPITimeout, events[4].Kind)
}

func TestEventLog_Summarize(t *testing.T) {
	log := NewEventLog(20)
	log.Record(EventXSSAttempt, SeverityWarning, "s", "u", "")
	log.Record(EventXSSAttempt, SeverityWarning, "s", "u", "")
	log.Record(EventAPITimeout, SeverityError, "s", "u", "")

	summary := log.Summarize()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.LastHour, "fresh events are within the trailing hour")
	assert.Equal(t, 2, summary.ByKind[EventXSSAttempt])
	assert.Equal(t, 1, summary.ByKind[EventAPITimeout])
}

func TestEventLog_SummarizeLastHourWindow(t *testing.T) {
	log := NewEventLog(20)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }

	log.Record(EventSQLInjectionAttempt, SeverityWarning, "s", "u", "")
	log.Record(EventRateLimitExceeded, SeverityInfo, "s", "u", "")

	now = now.Add(2 * time.Hour)
	log.Record(EventAPITimeout, SeverityError, "s", "u", "")

	summary := log.Summarize()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.LastHour, "only the recent event falls inside the trailing hour")
}

func TestEventLog_ConcurrentRecord(t *testing.T) {
	log := NewEventLog(DefaultEventCapacity)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				log.Record(EventRateLimitExceeded, SeverityInfo, "sess", "user", "")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, log.Events(), DefaultEventCapacity)
}
