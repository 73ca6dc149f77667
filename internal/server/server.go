// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat gateway over HTTP.
//
// Endpoints:
//   - POST /v1/chat/turn        - Run one chat turn, returns the render plan
//   - GET  /v1/chat/history     - Ordered conversation log
//   - GET  /v1/chat/export      - Markdown transcript of a conversation
//   - POST /v1/session/clear    - Destroy the session, rotate identifiers
//   - GET  /v1/session          - Session summary
//   - POST /v1/session/debug    - Toggle security log detail retention
//   - GET  /v1/security/summary - Aggregate security event counts
//   - GET  /health              - Health check
//
// The session token travels in the X-Session-Token request header; every
// response body carries the token the client must use next, which differs
// from the request token when the session was recreated or cleared.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/flowgate/internal/chat"
	"github.com/jeranaias/flowgate/internal/config"
	"github.com/jeranaias/flowgate/internal/flow"
	"github.com/jeranaias/flowgate/internal/security"
	"github.com/jeranaias/flowgate/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds request bodies. Prompts are capped at 5000
	// characters well below this; the headroom covers JSON overhead.
	MaxRequestBodySize = 64 * 1024

	// SessionTokenHeader carries the session token on requests.
	SessionTokenHeader = "X-Session-Token"

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front for the chat gateway.
type Server struct {
	addr    string
	router  *http.ServeMux
	server  *http.Server
	gateway *chat.Gateway
	logger  *log.Logger
	global  *rate.Limiter
}

// NewServer wires the HTTP server around a gateway.
func NewServer(cfg *config.Config, gateway *chat.Gateway, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		addr:    cfg.Server.Addr,
		router:  http.NewServeMux(),
		gateway: gateway,
		logger:  logger,
		global:  rate.NewLimiter(rate.Limit(cfg.Server.GlobalRatePerSecond), cfg.Server.GlobalBurst),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/chat/turn", s.handleTurn)
	s.router.HandleFunc("GET /v1/chat/history", s.handleHistory)
	s.router.HandleFunc("GET /v1/chat/export", s.handleExport)

	s.router.HandleFunc("POST /v1/session/clear", s.handleClear)
	s.router.HandleFunc("GET /v1/session", s.handleSessionInfo)
	s.router.HandleFunc("POST /v1/session/debug", s.handleDebug)

	s.router.HandleFunc("GET /v1/security/summary", s.handleSecuritySummary)

	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully wrapped handler, including middleware.
func (s *Server) Handler() http.Handler {
	chain := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		GlobalRateLimitMiddleware(s.global),
	)
	return chain(s.router)
}

// Start runs the server until ListenAndServe returns.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// turnRequest is the body of POST /v1/chat/turn.
type turnRequest struct {
	Conversation string `json:"conversation"`
	Prompt       string `json:"prompt"`
}

type historyResponse struct {
	SessionToken string         `json:"session_token"`
	Conversation string         `json:"conversation"`
	Messages     []chat.Message `json:"messages"`
}

type clearResponse struct {
	SessionToken string `json:"session_token"`
}

type sessionResponse struct {
	SessionToken string       `json:"session_token"`
	Info         session.Info `json:"info"`
}

type debugRequest struct {
	Enabled bool `json:"enabled"`
}

type summaryResponse struct {
	SessionToken string           `json:"session_token"`
	Summary      security.Summary `json:"summary"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleTurn handles POST /v1/chat/turn.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Invalid turn request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	conversation, ok := s.conversation(w, req.Conversation)
	if !ok {
		return
	}

	result := s.gateway.StartTurn(r.Context(), r.Header.Get(SessionTokenHeader), conversation, req.Prompt)
	s.writeJSON(w, http.StatusOK, result)
}

// handleHistory handles GET /v1/chat/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversation, ok := s.conversation(w, r.URL.Query().Get("conversation"))
	if !ok {
		return
	}

	token, messages := s.gateway.History(r.Header.Get(SessionTokenHeader), conversation)
	s.writeJSON(w, http.StatusOK, historyResponse{
		SessionToken: token,
		Conversation: conversation,
		Messages:     messages,
	})
}

// handleExport handles GET /v1/chat/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	conversation, ok := s.conversation(w, r.URL.Query().Get("conversation"))
	if !ok {
		return
	}

	token, transcript := s.gateway.ExportMarkdown(r.Header.Get(SessionTokenHeader), conversation)
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set(SessionTokenHeader, token)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(transcript))
}

// handleClear handles POST /v1/session/clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	token := s.gateway.ClearSession(r.Header.Get(SessionTokenHeader))
	s.writeJSON(w, http.StatusOK, clearResponse{SessionToken: token})
}

// handleSessionInfo handles GET /v1/session.
func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	token, info := s.gateway.SessionInfo(r.Header.Get(SessionTokenHeader))
	s.writeJSON(w, http.StatusOK, sessionResponse{SessionToken: token, Info: info})
}

// handleDebug handles POST /v1/session/debug.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req debugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	token := s.gateway.SetDebug(r.Header.Get(SessionTokenHeader), req.Enabled)
	s.writeJSON(w, http.StatusOK, clearResponse{SessionToken: token})
}

// handleSecuritySummary handles GET /v1/security/summary.
func (s *Server) handleSecuritySummary(w http.ResponseWriter, r *http.Request) {
	token, summary := s.gateway.SecuritySummary(r.Header.Get(SessionTokenHeader))
	s.writeJSON(w, http.StatusOK, summaryResponse{SessionToken: token, Summary: summary})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// conversation validates a conversation key, defaulting empty to "general".
// Writes a 400 and returns false on an unknown key.
func (s *Server) conversation(w http.ResponseWriter, key string) (string, bool) {
	if key == "" {
		key = flow.ConversationKeys[0]
	}
	if !flow.KnownKey(key) {
		s.writeError(w, http.StatusBadRequest, "Unknown conversation")
		return "", false
	}
	return key, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("RESPONSE_ENCODE_FAILED | error=%v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
