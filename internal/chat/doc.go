// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the orchestration core: it owns the per-session
// conversation logs and runs one chat turn end to end, from rate limiting
// and input validation through the upstream call to the rendered reply.
//
// No error crosses the gateway upward. Every failure mode, validation
// rejects, rate limiting, upstream errors, even panics, becomes a normal
// assistant message so the host UI has exactly one rendering path.
package chat
