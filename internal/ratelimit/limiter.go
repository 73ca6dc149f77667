// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit implements a per-user sliding window rate limiter.
//
// Each user ID owns a bucket of request timestamps. Every public call first
// evicts timestamps older than the window (lazy eviction); empty buckets are
// reclaimed so memory stays bounded by the number of recently active users.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults match the gateway's security policy.
const (
	DefaultMaxRequests = 20
	DefaultWindow      = time.Minute
)

// =============================================================================
// LIMITER
// =============================================================================

// Limiter admits at most maxRequests requests per user within any trailing
// window. All operations are serialised under a single mutex and are O(n) in
// the bucket size.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	buckets     map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter admitting maxRequests per window per user.
// Non-positive arguments fall back to the defaults.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		buckets:     make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow reports whether a request from userID may proceed, recording the
// request timestamp when it may. Once the window holds maxRequests entries,
// further requests are denied until the oldest entry ages out.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := l.evict(userID, now)

	if len(bucket) >= l.maxRequests {
		return false
	}

	l.buckets[userID] = append(bucket, now)
	return true
}

// WaitSeconds returns how many whole seconds until userID may make another
// request, or 0 if a request would be admitted now.
func (l *Limiter) WaitSeconds(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := l.evict(userID, now)

	if len(bucket) < l.maxRequests {
		return 0
	}

	// The bucket is append-only in time order, so the first entry is oldest.
	wait := bucket[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return int(wait.Seconds())
}

// Count returns the number of requests userID has made within the window.
func (l *Limiter) Count(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.evict(userID, l.now()))
}

// evict drops timestamps outside the window for userID and returns the
// surviving bucket. Empty buckets are removed from the map.
// Callers must hold l.mu.
func (l *Limiter) evict(userID string, now time.Time) []time.Time {
	bucket := l.buckets[userID]
	if len(bucket) == 0 {
		return nil
	}

	windowStart := now.Add(-l.window)
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}

	if len(kept) == 0 {
		delete(l.buckets, userID)
		return nil
	}
	l.buckets[userID] = kept
	return kept
}
