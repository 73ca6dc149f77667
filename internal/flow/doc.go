// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package flow provides the HTTP client for hosted LangFlow-compatible flow
// endpoints and the projection of their polymorphic reply envelopes down to
// a single reply string.
//
// One chat turn is one POST. The client sends the prompt with the full set
// of session identifiers both in the JSON body and as an X-* header family,
// applies explicit connect and read timeouts, and handles redirects manually
// so a proxied endpoint only ever receives the POST once per hop.
package flow
