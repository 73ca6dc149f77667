// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string helpers shared by the flowgate
// packages.
//
// All truncation helpers are rune-aware: they count characters, not bytes,
// so multi-byte UTF-8 sequences are never split mid-character. This matters
// for session/user ID prefixes and for diagnostic snippets taken from
// upstream responses, which may contain arbitrary Unicode.
package util
