// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents a failed flow invocation. UserMessage is safe to
// surface to the end user; Message and Cause are for logs.
type ClientError struct {
	Kind        ErrorKind
	Message     string
	UserMessage string
	Cause       error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorKind categorises client errors for handling and logging.
type ErrorKind int

const (
	ErrKindUnexpected ErrorKind = iota
	ErrKindTimeout
	ErrKindNetwork
	ErrKindHTTP
	ErrKindDecode
)

// User-safe sentences per error kind.
const (
	msgTimeout    = "The request took too long. Please try again."
	msgNetwork    = "Connection error. Please check your internet connection."
	msgHTTP       = "An error occurred. Please try again later."
	msgDecode     = "Invalid response from server. Please try again."
	msgUnexpected = "An error occurred. Please try again later."
)

// Kind returns the classified kind for err, or ErrKindUnexpected when err is
// not a ClientError.
func Kind(err error) ErrorKind {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Kind
	}
	return ErrKindUnexpected
}

// UserMessage returns the user-safe sentence for err.
func UserMessage(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.UserMessage != "" {
		return clientErr.UserMessage
	}
	return msgUnexpected
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the flow client.
type ClientConfig struct {
	// ConnectTimeout bounds TCP connection establishment (default: 10s).
	ConnectTimeout time.Duration

	// ReadTimeout bounds the whole request including the response body
	// (default: 300s; flow graphs can be slow).
	ReadTimeout time.Duration

	// APIKey, when set, is sent as both X-API-Key and Authorization: Bearer.
	APIKey string

	// PageContext is sent as X-Page-Context on every request.
	PageContext string
}

// DefaultClientConfig returns the default flow client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    300 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client invokes flow endpoints over HTTP. It is safe for concurrent use;
// both underlying http.Clients share one keep-alive connection pool.
type Client struct {
	config *ClientConfig

	// noRedirect performs the first attempt with redirects disabled.
	noRedirect *http.Client

	// follow retries a redirected POST with redirects enabled.
	follow *http.Client

	// now is swappable for tests.
	now func() time.Time
}

// NewClient creates a flow client with the given configuration.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 300 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: config.ConnectTimeout,
	}

	return &Client{
		config: config,
		noRedirect: &http.Client{
			Transport: transport,
			Timeout:   config.ReadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow: &http.Client{
			Transport: transport,
			Timeout:   config.ReadTimeout,
		},
		now: time.Now,
	}
}

// =============================================================================
// CALL
// =============================================================================

// Call POSTs a sanitized prompt to endpointURL and returns the raw response
// envelope. Redirect statuses are not followed automatically: on a 3xx the
// same POST is retried once against the original URL with redirects enabled.
func (c *Client) Call(ctx context.Context, endpointURL, prompt string, sctx SessionContext) (json.RawMessage, error) {
	body, err := json.Marshal(newRequest(prompt, sctx, c.now()))
	if err != nil {
		return nil, &ClientError{
			Kind:        ErrKindUnexpected,
			Message:     "failed to marshal request",
			UserMessage: msgUnexpected,
			Cause:       err,
		}
	}

	resp, err := c.do(ctx, c.noRedirect, endpointURL, body, sctx)
	if err != nil {
		return nil, err
	}

	if isRedirect(resp.StatusCode) {
		drainAndClose(resp.Body)
		resp, err = c.do(ctx, c.follow, endpointURL, body, sctx)
		if err != nil {
			return nil, err
		}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ClientError{
			Kind:        ErrKindHTTP,
			Message:     "flow endpoint returned " + resp.Status,
			UserMessage: msgHTTP,
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if !json.Valid(raw) {
		return nil, &ClientError{
			Kind:        ErrKindDecode,
			Message:     "flow endpoint returned malformed JSON",
			UserMessage: msgDecode,
		}
	}

	return json.RawMessage(raw), nil
}

// do sends one POST attempt with the full header family.
func (c *Client) do(ctx context.Context, client *http.Client, endpointURL string, body []byte, sctx SessionContext) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{
			Kind:        ErrKindUnexpected,
			Message:     "failed to create request",
			UserMessage: msgUnexpected,
			Cause:       err,
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")

	req.Header.Set("X-Session-ID", sctx.SessionID)
	req.Header.Set("X-User-ID", sctx.UserID)
	req.Header.Set("X-Session-Token", sctx.SessionToken)
	req.Header.Set("X-Client-ID", sctx.SessionID)
	req.Header.Set("X-Conversation-ID", sctx.SessionID)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Timestamp", c.now().UTC().Format(time.RFC3339))
	req.Header.Set("X-Page-Context", c.pageContext(sctx))

	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	return resp, nil
}

// pageContext prefers the configured page context, falling back to the
// conversation key.
func (c *Client) pageContext(sctx SessionContext) string {
	if c.config.PageContext != "" {
		return c.config.PageContext
	}
	return sctx.ConversationKey
}

// =============================================================================
// HELPERS
// =============================================================================

// isRedirect reports whether status is one of the redirect codes handled by
// the manual retry.
func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// classifyTransport maps a transport-level error onto the taxonomy.
func classifyTransport(err error) *ClientError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClientError{
			Kind:        ErrKindTimeout,
			Message:     "flow request timed out",
			UserMessage: msgTimeout,
			Cause:       err,
		}
	}
	return &ClientError{
		Kind:        ErrKindNetwork,
		Message:     "flow request failed",
		UserMessage: msgNetwork,
		Cause:       err,
	}
}

// drainAndClose consumes the remaining body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
