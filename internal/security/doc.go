// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides defensive input validation and security event
// logging for the chat gateway.
//
// The validator applies an ordered rule set to raw prompts before they are
// forwarded upstream: emptiness, length, script/markup injection patterns,
// SQL injection patterns, special-character density, control characters, and
// token length. The pattern sets are plain data so new patterns can be added
// without touching the matching logic.
//
// The event log is a bounded in-memory ring of categorised events. It never
// stores full identifiers or full prompt text: session and user IDs are
// reduced to 8-character prefixes, and free-form detail is only retained
// when debug mode is on, truncated to 100 characters.
package security
