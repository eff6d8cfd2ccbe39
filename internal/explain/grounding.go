package explain

import (
	"regexp"
	"strings"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
)

// DefaultDenylist holds overconfident or unsafe phrases rejected in
// explainer output.
var DefaultDenylist = []string{
	"definitely",
	"root cause is",
	"must be",
	"guaranteed",
	"fix by",
	"rollback",
	"deploy immediately",
	"restart database",
	"increase pool size",
	"delete",
	"drop table",
}

var (
	ipToken = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// clock times are stripped before port extraction so 10:15:30 does not
	// yield :15 and :30. A clock time starts the text or follows whitespace,
	// T, [ or (, and ends on a word boundary; redis-2:6380 and db01:9999
	// keep their ports.
	clockTime = regexp.MustCompile(`(^|[\s\[(T])\d{1,2}:\d{2}(?::\d{2})?(?:\.\d+)?Z?\b`)
	portToken = regexp.MustCompile(`:\d{2,5}\b`)
)

// CheckGrounding verifies that every IP address and port mentioned in the
// explanation also appears in the sampled evidence, and that the text avoids
// phrases on the denylist. Only the first denylisted phrase is reported.
func CheckGrounding(exp *Explanation, b *evidence.Bundle, denylist []string) []string {
	evidenceText := b.RawText()
	text := exp.FreeText()

	var errs []string

	knownIPs := toSet(ipToken.FindAllString(evidenceText, -1))
	for _, ip := range unique(ipToken.FindAllString(text, -1)) {
		if _, ok := knownIPs[ip]; !ok {
			errs = append(errs, "Hallucinated IP address not in evidence: "+ip)
		}
	}

	knownPorts := toSet(ports(evidenceText))
	for _, p := range unique(ports(text)) {
		if _, ok := knownPorts[p]; !ok {
			errs = append(errs, "Hallucinated port not in evidence: "+p)
		}
	}

	lower := strings.ToLower(text)
	for _, phrase := range denylist {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			errs = append(errs, `Unsafe or overconfident language: "`+phrase+`"`)
			break
		}
	}

	return errs
}

func ports(text string) []string {
	return portToken.FindAllString(clockTime.ReplaceAllString(text, "$1 "), -1)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// unique keeps first occurrences in order.
func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
