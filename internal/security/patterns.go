// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import "regexp"

// =============================================================================
// INJECTION PATTERN SETS
// =============================================================================

// injectionPatternSources lists patterns that indicate script or markup
// injection attempts. All patterns are applied case-insensitively.
// The list is data: add a pattern here and the validator picks it up.
var injectionPatternSources = []string{
	`<script.*?>.*?</script>`,
	`javascript:`,
	`vbscript:`,
	`on\w+\s*=`,
	`eval\s*\(`,
	`expression\s*\(`,
	`alert\s*\(`,
	`prompt\s*\(`,
	`confirm\s*\(`,
	`exec\s*\(`,
	`system\s*\(`,
	`shell\s*\(`,
	`<iframe.*?>`,
	`<object.*?>`,
	`<embed.*?>`,
	`<form.*?>`,
	`document\.`,
	`window\.`,
	`__import__`,
	`subprocess`,
	`pickle\.loads`,
	`marshal\.loads`,
	`base64\.decode`,
	`import\s+os`,
}

// sqlPatternSources lists patterns that indicate SQL injection attempts.
var sqlPatternSources = []string{
	`union\s+select`,
	`drop\s+table`,
	`delete\s+from`,
	`insert\s+into`,
	`update\s+\w+\s+set`,
	`alter\s+table`,
	`create\s+table`,
	`--\s*$`,
	`/\*.*?\*/`,
	`;\s*(drop|delete|update)`,
}

var (
	injectionPatterns = compilePatterns(injectionPatternSources)
	sqlPatterns       = compilePatterns(sqlPatternSources)
)

// compilePatterns compiles a pattern list with case-insensitive matching.
// Panics on an invalid pattern; the lists above are constants, so a bad
// entry is a programming error caught at init.
func compilePatterns(sources []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+src))
	}
	return compiled
}

// matchesAny reports whether input matches any pattern in the set.
func matchesAny(patterns []*regexp.Regexp, input string) bool {
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
