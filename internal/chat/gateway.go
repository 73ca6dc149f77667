// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/flowgate/internal/flow"
	"github.com/jeranaias/flowgate/internal/ratelimit"
	"github.com/jeranaias/flowgate/internal/render"
	"github.com/jeranaias/flowgate/internal/security"
	"github.com/jeranaias/flowgate/internal/session"
	"github.com/jeranaias/flowgate/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// busyMessage is returned when a turn is already in flight for the
	// session.
	busyMessage = "A response is still being generated. Please wait for it to finish."

	// errorReplyPrefix prefixes every upstream failure surfaced as a reply.
	errorReplyPrefix = "Sorry, I encountered an error: "

	// genericErrorMessage covers anything unexpected, including panics.
	genericErrorMessage = "An error occurred. Please try again later."

	// diagnosticPrefixChars caps the detail recorded with error events.
	diagnosticPrefixChars = 50
)

// =============================================================================
// GATEWAY
// =============================================================================

// Caller performs one upstream flow call. *flow.Client implements it; tests
// substitute fakes.
type Caller interface {
	Call(ctx context.Context, endpointURL, prompt string, sctx flow.SessionContext) (json.RawMessage, error)
}

// TurnResult is the outcome of one chat turn. SessionToken is the token the
// host must carry forward; it changes when the session was recreated.
type TurnResult struct {
	SessionToken string       `json:"session_token"`
	Reply        string       `json:"reply"`
	Plan         *render.Plan `json:"plan"`
}

// Gateway runs chat turns. It never returns an error from StartTurn; every
// failure becomes an assistant message.
type Gateway struct {
	registry  *session.Registry
	limiter   *ratelimit.Limiter
	caller    Caller
	endpoints map[string]string
	store     *Store
}

// NewGateway wires the gateway. It fails fast when the endpoint map does not
// cover every conversation key.
func NewGateway(registry *session.Registry, limiter *ratelimit.Limiter, caller Caller, endpoints map[string]string) (*Gateway, error) {
	for _, key := range flow.ConversationKeys {
		if endpoints[key] == "" {
			return nil, fmt.Errorf("configuration error: no endpoint for conversation %q", key)
		}
	}

	gw := &Gateway{
		registry:  registry,
		limiter:   limiter,
		caller:    caller,
		endpoints: endpoints,
		store:     NewStore(),
	}

	// Expired sessions take their conversation logs with them.
	registry.OnEvict(gw.store.Purge)

	return gw, nil
}

// =============================================================================
// TURNS
// =============================================================================

// StartTurn runs one chat turn: ensure the session, enforce the rate limit,
// validate and sanitise the prompt, call upstream, and log both sides of the
// exchange. It blocks for the duration of the upstream call and is safe to
// call from multiple sessions concurrently.
func (g *Gateway) StartTurn(ctx context.Context, token, conversationKey, prompt string) (result *TurnResult) {
	sess, _ := g.registry.Ensure(token)
	token = sess.Token
	g.registry.Touch(token)

	began := false
	defer func() {
		if r := recover(); r != nil {
			sess.Events.Record(security.EventUnexpectedError, security.SeverityError,
				sess.ID, sess.UserID, util.TruncateRunes(fmt.Sprint(r), diagnosticPrefixChars))
			if began {
				g.registry.EndTurn(token)
			}
			result = g.turnResult(token, genericErrorMessage)
		}
	}()

	if !g.registry.BeginTurn(token) {
		return g.turnResult(token, busyMessage)
	}
	began = true
	defer g.registry.EndTurn(token)

	if !g.limiter.Allow(sess.UserID) {
		wait := g.limiter.WaitSeconds(sess.UserID)
		sess.Events.Record(security.EventRateLimitExceeded, security.SeverityWarning,
			sess.ID, sess.UserID, "")
		reply := fmt.Sprintf("Too many requests. Please wait %d seconds before trying again.", wait)
		g.store.Append(token, conversationKey, RoleAssistant, reply)
		return g.turnResult(token, reply)
	}

	if verdict := security.Validate(prompt); !verdict.OK {
		if verdict.Event != "" {
			sess.Events.Record(verdict.Event, security.SeverityWarning,
				sess.ID, sess.UserID, util.TruncateRunes(prompt, diagnosticPrefixChars))
		}
		g.store.Append(token, conversationKey, RoleAssistant, verdict.Reason)
		return g.turnResult(token, verdict.Reason)
	}

	endpoint, ok := g.endpoints[conversationKey]
	if !ok {
		sess.Events.Record(security.EventUnexpectedError, security.SeverityError,
			sess.ID, sess.UserID, util.TruncateRunes("unknown conversation "+conversationKey, diagnosticPrefixChars))
		g.store.Append(token, conversationKey, RoleAssistant, genericErrorMessage)
		return g.turnResult(token, genericErrorMessage)
	}

	g.store.Append(token, conversationKey, RoleUser, prompt)

	raw, err := g.caller.Call(ctx, endpoint, security.Sanitize(prompt), flow.SessionContext{
		SessionID:       sess.ID,
		SessionToken:    sess.Token,
		UserID:          sess.UserID,
		ConversationKey: conversationKey,
	})

	var reply string
	if err != nil {
		sess.Events.Record(eventForErrorKind(flow.Kind(err)), security.SeverityError,
			sess.ID, sess.UserID, util.TruncateRunes(err.Error(), diagnosticPrefixChars))
		reply = errorReplyPrefix + flow.UserMessage(err)
	} else {
		reply = flow.Extract(raw)
	}

	g.store.Append(token, conversationKey, RoleAssistant, reply)
	return g.turnResult(token, reply)
}

// turnResult packages a reply with its render plan.
func (g *Gateway) turnResult(token, reply string) *TurnResult {
	return &TurnResult{
		SessionToken: token,
		Reply:        reply,
		Plan:         render.Render(reply),
	}
}

// eventForErrorKind maps an upstream error kind to its security event.
func eventForErrorKind(kind flow.ErrorKind) string {
	switch kind {
	case flow.ErrKindTimeout:
		return security.EventAPITimeout
	case flow.ErrKindNetwork:
		return security.EventAPIConnectionError
	case flow.ErrKindHTTP:
		return security.EventAPIHTTPError
	case flow.ErrKindDecode:
		return security.EventAPIDecodeError
	default:
		return security.EventUnexpectedError
	}
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// History returns the ordered conversation log. The returned token reflects
// any session recreation and must be carried forward by the host.
func (g *Gateway) History(token, conversationKey string) (string, []Message) {
	sess, _ := g.registry.Ensure(token)
	g.registry.Touch(sess.Token)
	return sess.Token, g.store.Messages(sess.Token, conversationKey)
}

// ClearSession destroys the session and all of its conversations, returning
// the token of the replacement session.
func (g *Gateway) ClearSession(token string) string {
	g.store.Purge(token)
	fresh := g.registry.Clear(token)
	return fresh.Token
}

// SessionInfo returns the host-facing session summary.
func (g *Gateway) SessionInfo(token string) (string, session.Info) {
	sess, _ := g.registry.Ensure(token)
	return sess.Token, g.registry.Info(sess.Token)
}

// SecuritySummary returns aggregate counts from the session's security log.
func (g *Gateway) SecuritySummary(token string) (string, security.Summary) {
	sess, _ := g.registry.Ensure(token)
	return sess.Token, sess.Events.Summarize()
}

// SecurityEvents returns the session's recorded security events, oldest
// first.
func (g *Gateway) SecurityEvents(token string) (string, []security.Event) {
	sess, _ := g.registry.Ensure(token)
	return sess.Token, sess.Events.Events()
}

// SetDebug toggles detail retention in the session's security log.
func (g *Gateway) SetDebug(token string, enabled bool) string {
	sess, _ := g.registry.Ensure(token)
	g.registry.SetDebug(sess.Token, enabled)
	return sess.Token
}

// ExportMarkdown renders the conversation log as a markdown transcript.
func (g *Gateway) ExportMarkdown(token, conversationKey string) (string, string) {
	sess, _ := g.registry.Ensure(token)
	return sess.Token, g.store.Markdown(sess.Token, conversationKey)
}
