// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxConversationMessages bounds each conversation log. When the bound is
// reached the oldest messages are dropped, keeping the most recent turns.
const MaxConversationMessages = 200

// =============================================================================
// STORE
// =============================================================================

// Store holds the in-memory conversation logs, keyed by session token and
// conversation key. Logs live and die with their session; Purge removes all
// of a session's conversations at once. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	logs map[string]map[string][]Message
	now  func() time.Time
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		logs: make(map[string]map[string][]Message),
		now:  time.Now,
	}
}

// Append adds a message to the (token, conversationKey) log, evicting the
// oldest messages past the bound.
func (s *Store) Append(token, conversationKey string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.logs[token]
	if !ok {
		byKey = make(map[string][]Message)
		s.logs[token] = byKey
	}

	log := append(byKey[conversationKey], Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	})
	if over := len(log) - MaxConversationMessages; over > 0 {
		log = append(log[:0:0], log[over:]...)
	}
	byKey[conversationKey] = log
}

// Messages returns a copy of the (token, conversationKey) log in append
// order.
func (s *Store) Messages(token, conversationKey string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[token][conversationKey]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// Purge drops every conversation belonging to token.
func (s *Store) Purge(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, token)
}

// Markdown exports the (token, conversationKey) log as a markdown
// transcript.
func (s *Store) Markdown(token, conversationKey string) string {
	messages := s.Messages(token, conversationKey)

	var sb strings.Builder
	sb.WriteString("# Conversation: ")
	sb.WriteString(conversationKey)
	sb.WriteString("\n")
	for _, msg := range messages {
		sb.WriteString("\n**")
		sb.WriteString(string(msg.Role))
		sb.WriteString("** (")
		sb.WriteString(msg.Timestamp.Format(time.RFC3339))
		sb.WriteString("):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
