// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/jeranaias/flowgate/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MaxInputLength is the maximum prompt length in code points.
const MaxInputLength = 5000

// MaxTokenLength is the maximum length of a single whitespace-delimited word.
const MaxTokenLength = 100

// MaxSpecialCharRatio is the maximum allowed ratio of characters outside the
// basic alphanumeric/punctuation set. Exactly this ratio is still accepted.
const MaxSpecialCharRatio = 0.3

// Rejection messages surfaced to the user as assistant bubbles.
const (
	ReasonEmpty          = "Input cannot be empty"
	ReasonTooLong        = "Input exceeds maximum length of 5000 characters"
	ReasonInjection      = "Invalid input detected. Please remove any code or scripts."
	ReasonSQL            = "Invalid input detected."
	ReasonTooManySpecial = "Input contains too many special characters"
	ReasonControlChars   = "Invalid input detected."
	ReasonTokenTooLong   = "Input contains words that are too long"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationResult is the outcome of validating a prompt. When OK is false,
// Reason carries the user-facing rejection message and Event carries the
// security event kind to log, or "" when no event is warranted.
type ValidationResult struct {
	OK     bool
	Reason string
	Event  string
}

// accepted is the singleton passing result.
var accepted = ValidationResult{OK: true}

func reject(reason, event string) ValidationResult {
	return ValidationResult{Reason: reason, Event: event}
}

// Validate applies the ordered rule set to a raw prompt. The first failing
// rule wins; rules are ordered from cheapest to most expensive.
func Validate(input string) ValidationResult {
	if strings.TrimSpace(input) == "" {
		return reject(ReasonEmpty, "")
	}

	if util.RuneLen(input) > MaxInputLength {
		return reject(ReasonTooLong, "")
	}

	if matchesAny(injectionPatterns, input) {
		return reject(ReasonInjection, EventXSSAttempt)
	}

	if matchesAny(sqlPatterns, input) {
		return reject(ReasonSQL, EventSQLInjectionAttempt)
	}

	if specialCharRatio(input) > MaxSpecialCharRatio {
		return reject(ReasonTooManySpecial, "")
	}

	if hasDisallowedControl(input) {
		return reject(ReasonControlChars, "")
	}

	for _, token := range strings.Fields(input) {
		if util.RuneLen(token) > MaxTokenLength {
			return reject(ReasonTokenTooLong, "")
		}
	}

	return accepted
}

// specialCharRatio returns the fraction of runes outside the basic
// alphanumeric, whitespace, and common punctuation set.
func specialCharRatio(input string) float64 {
	runes := []rune(input)
	if len(runes) == 0 {
		return 0
	}

	special := 0
	for _, r := range runes {
		if !isPlainRune(r) {
			special++
		}
	}
	return float64(special) / float64(len(runes))
}

// isPlainRune reports whether r belongs to the allowed basic set:
// ASCII letters and digits, whitespace, and .,!?'"()- punctuation.
func isPlainRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case unicode.IsSpace(r):
		return true
	}
	switch r {
	case '.', ',', '!', '?', '\'', '"', '(', ')', '-':
		return true
	}
	return false
}

// hasDisallowedControl reports whether input contains a control character
// other than tab, newline, or carriage return.
func hasDisallowedControl(input string) bool {
	for _, r := range input {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// =============================================================================
// SANITIZATION
// =============================================================================

// tagPattern strips anything that looks like a markup tag.
var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Sanitize normalises an already-validated prompt before it is forwarded
// upstream: markup tags are stripped, existing entities are decoded so the
// final escape pass is idempotent, control characters are dropped,
// whitespace runs collapse to single spaces, the result is HTML-escaped and
// truncated to MaxInputLength code points.
//
// Sanitize(Sanitize(x)) == Sanitize(x) for any input x.
func Sanitize(input string) string {
	cleaned := tagPattern.ReplaceAllString(input, "")

	// Decode entities before re-escaping so repeated sanitisation is stable.
	cleaned = html.UnescapeString(cleaned)

	var sb strings.Builder
	sb.Grow(len(cleaned))
	for _, r := range cleaned {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		sb.WriteRune(r)
	}

	cleaned = strings.Join(strings.Fields(sb.String()), " ")
	cleaned = html.EscapeString(cleaned)

	return util.TruncateRunesNoEllipsis(cleaned, MaxInputLength)
}
