// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package flow

import "time"

// =============================================================================
// CONVERSATION KEYS
// =============================================================================

// ConversationKeys is the fixed set of flow names the gateway serves.
// Configuration must provide an endpoint URL for every key.
var ConversationKeys = []string{"general", "research", "support"}

// KnownKey reports whether key is one of the configured flow names.
func KnownKey(key string) bool {
	for _, k := range ConversationKeys {
		if k == key {
			return true
		}
	}
	return false
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SessionContext carries the session identifiers attached to every upstream
// call, both in the request body and mirrored into headers.
type SessionContext struct {
	SessionID    string
	SessionToken string
	UserID       string

	// ConversationKey names the flow this turn belongs to.
	ConversationKey string
}

// Request is the JSON body of one flow invocation.
type Request struct {
	InputValue     string          `json:"input_value"`
	OutputType     string          `json:"output_type"`
	InputType      string          `json:"input_type"`
	SessionID      string          `json:"session_id"`
	SessionToken   string          `json:"session_token"`
	UserID         string          `json:"user_id"`
	ClientID       string          `json:"client_id"`
	ConversationID string          `json:"conversation_id"`
	Metadata       SessionMetadata `json:"session_metadata"`
}

// SessionMetadata repeats the identifiers in a nested block with a request
// timestamp and the conversation key, matching the upstream contract.
type SessionMetadata struct {
	SessionID    string    `json:"session_id"`
	SessionToken string    `json:"session_token"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
	Conversation string    `json:"conversation"`
}

// newRequest assembles the body for one turn.
func newRequest(prompt string, sctx SessionContext, now time.Time) Request {
	return Request{
		InputValue:     prompt,
		OutputType:     "chat",
		InputType:      "chat",
		SessionID:      sctx.SessionID,
		SessionToken:   sctx.SessionToken,
		UserID:         sctx.UserID,
		ClientID:       sctx.SessionID,
		ConversationID: sctx.SessionID,
		Metadata: SessionMetadata{
			SessionID:    sctx.SessionID,
			SessionToken: sctx.SessionToken,
			UserID:       sctx.UserID,
			Timestamp:    now,
			Conversation: sctx.ConversationKey,
		},
	}
}

// =============================================================================
// RESPONSE ENVELOPE
// =============================================================================

// The reply envelope is only semi-specified upstream: depending on the flow
// graph, the reply lands in one of several nested positions. The envelope is
// decoded into an explicit schema with optional fields, and extraction rules
// try the positions in a fixed order (see extract.go).

// Envelope is the decoded top level of a flow response.
type Envelope struct {
	Outputs []OuterOutput `json:"outputs"`
}

// OuterOutput is one entry of the outer outputs list.
type OuterOutput struct {
	Outputs []InnerOutput `json:"outputs"`
}

// InnerOutput holds the two places a reply can appear.
type InnerOutput struct {
	Messages []EnvelopeMessage `json:"messages"`
	Results  *Results          `json:"results"`
}

// EnvelopeMessage is a direct message entry.
type EnvelopeMessage struct {
	Message string `json:"message"`
}

// Results wraps the results.message variants.
type Results struct {
	Message *ResultMessage `json:"message"`
}

// ResultMessage carries the reply as text, or nested one level deeper.
type ResultMessage struct {
	Text string       `json:"text"`
	Data *MessageData `json:"data"`
}

// MessageData is the deepest reply position.
type MessageData struct {
	Text string `json:"text"`
}
