package signature

import (
	"regexp"
	"strings"
)

// UnknownErrorType labels messages with no words at all.
const UnknownErrorType = "unknown_error"

var errorTypeName = regexp.MustCompile(`^([A-Za-z_]\w*(?:Exception|Error|Fault))\b`)

// ErrorType extracts a short display label from msg: a leading
// FooException / FooError / FooFault identifier when present, otherwise the
// first six words.
func ErrorType(msg string) string {
	msg = strings.TrimSpace(msg)
	if m := errorTypeName.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	words := strings.Fields(msg)
	if len(words) == 0 {
		return UnknownErrorType
	}
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
