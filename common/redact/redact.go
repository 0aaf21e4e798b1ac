// Package redact keeps secrets and raw conversation text out of log output.
//
// Summarizer API keys must never appear in log lines, and turn content is
// only ever logged as a short preview at debug level. Redaction is
// best-effort: it relies on callers passing the right sensitive terms.
package redact

import (
	"strings"
	"unicode/utf8"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(err.Error(), apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Preview returns at most max runes of s with newlines flattened, followed by
// an ellipsis when truncated.
func Preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}

// Key masks an API key for display, keeping the last four characters.
func Key(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 8 {
		return placeholder
	}
	return placeholder + k[len(k)-4:]
}
