// Package signature reduces log messages to stable grouping templates by
// replacing variable tokens with fixed placeholders.
package signature

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxLen is the rune length at which messages are truncated.
	MaxLen = 400

	// Empty is the signature of a blank message.
	Empty = "empty_message"

	ellipsis = "…"
)

// Placeholders substituted for variable tokens.
const (
	PlaceholderUUID     = "<uuid>"
	PlaceholderIP       = "<ip>"
	PlaceholderHex      = "<hex>"
	PlaceholderDuration = "<duration>"
	PlaceholderNumber   = "<num>"
)

type substitution struct {
	re   *regexp.Regexp
	repl string
}

// applied in order: UUIDs and IPs contain digit runs that must not be
// collapsed to <num> first.
var substitutions = []substitution{
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}\b`), PlaceholderUUID},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), PlaceholderIP},
	{regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b`), PlaceholderHex},
	{regexp.MustCompile(`(?i)\b\d+\s*ms\b`), PlaceholderDuration},
	{regexp.MustCompile(`\b\d+\b`), PlaceholderNumber},
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize returns the grouping signature for msg. It is deterministic and
// idempotent: Normalize(Normalize(m)) == Normalize(m).
func Normalize(msg string) string {
	s := strings.ReplaceAll(msg, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty
	}

	s = truncate(s)
	// Truncation can expose a digit run the previous pass left alone, so
	// rewrite to a fixed point. Each changing pass removes digits.
	for {
		next := rewrite(s)
		if next == s {
			return s
		}
		s = next
	}
}

func rewrite(s string) string {
	for _, sub := range substitutions {
		s = sub.re.ReplaceAllString(s, sub.repl)
	}
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	return truncate(s)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxLen]) + ellipsis
}
