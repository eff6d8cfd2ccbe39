package explain

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/signature"
)

const (
	maxFallbackCauses = 3
	maxFallbackSteps  = 5
	titleSignatureLen = 60
)

var fallbackCaveats = []string{
	"This is an automated analysis without LLM assistance",
	"Manual review recommended for accurate root cause identification",
}

type causeRule struct {
	keywords   []string
	hypothesis string
}

// checked in order; every matching rule contributes one cause
var causeRules = []causeRule{
	{[]string{"connection", "connect", "timeout", "refused"}, "Network connectivity issue or service unavailable"},
	{[]string{"memory", "heap", "oom", "out of memory"}, "Memory exhaustion or memory leak"},
	{[]string{"null", "undefined", "none", "nil"}, "Null reference or missing data"},
	{[]string{"permission", "denied", "forbidden", "unauthorized", "403", "401"}, "Permission or authentication issue"},
	{[]string{"disk", "storage", "space", "quota"}, "Storage capacity or disk issue"},
	{[]string{"database", "sql", "query", "db"}, "Database connectivity or query issue"},
}

const genericHypothesis = "Application error requiring manual investigation"

var placeholderText = strings.NewReplacer(
	signature.PlaceholderNumber, "N",
	signature.PlaceholderUUID, "ID",
	signature.PlaceholderIP, "IP",
	signature.PlaceholderHex, "hex",
	signature.PlaceholderDuration, "N ms",
)

// Fallback builds a deterministic explanation from the evidence alone.
func Fallback(b *evidence.Bundle, sig string) *Explanation {
	lineNumbers := make([]int, len(b.SampleLines))
	for i, s := range b.SampleLines {
		lineNumbers[i] = s.LineNumber
	}

	return &Explanation{
		Title:                 fallbackTitle(b, sig),
		WhatHappened:          fallbackNarrative(b),
		LikelyCauses:          fallbackCauses(b, lineNumbers),
		NextSteps:             fallbackSteps(b),
		Confidence:            ConfidenceLow,
		Caveats:               append([]string(nil), fallbackCaveats...),
		ReferencedLineNumbers: lineNumbers,
	}
}

func fallbackTitle(b *evidence.Bundle, sig string) string {
	label := "Issue"
	switch {
	case b.Stats.ErrorCount > 0:
		label = "Error"
	case b.Stats.WarnCount > 0:
		label = "Warning"
	}

	phrase := placeholderText.Replace(sig)
	if r := []rune(phrase); len(r) > titleSignatureLen {
		phrase = string(r[:titleSignatureLen]) + "..."
	}

	title := label + ": " + phrase
	if len(b.Services) > 0 {
		svcs := b.Services
		if len(svcs) > 2 {
			svcs = svcs[:2]
		}
		title += " in " + strings.Join(svcs, ", ")
	}
	return title
}

func fallbackNarrative(b *evidence.Bundle) string {
	st := b.Stats
	parts := []string{fmt.Sprintf("Detected %d occurrence(s) of this pattern.", st.TotalCount)}

	if st.ErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d were ERROR level.", st.ErrorCount))
	}
	if st.WarnCount > 0 {
		parts = append(parts, fmt.Sprintf("%d were WARNING level.", st.WarnCount))
	}
	if len(st.Services) > 0 {
		parts = append(parts, fmt.Sprintf("Affected services: %s.", strings.Join(st.Services, ", ")))
	}
	if st.TimeSpanSeconds != nil {
		parts = append(parts, "Time span: "+humanSpan(*st.TimeSpanSeconds)+".")
	}
	if !b.TimeWindow.FirstSeen.IsZero() {
		parts = append(parts, fmt.Sprintf("First seen: %s.", b.TimeWindow.FirstSeen.UTC().Format(time.RFC3339)))
	}

	return strings.Join(parts, " ")
}

func humanSpan(sec float64) string {
	switch {
	case sec < 60:
		return fmt.Sprintf("%.1f seconds", sec)
	case sec < 3600:
		return fmt.Sprintf("%.1f minutes", sec/60)
	default:
		return fmt.Sprintf("%.1f hours", sec/3600)
	}
}

func fallbackCauses(b *evidence.Bundle, lineNumbers []int) []Cause {
	msgs := make([]string, len(b.SampleLines))
	for i, s := range b.SampleLines {
		msgs[i] = strings.ToLower(s.Message)
	}
	text := strings.Join(msgs, " ")

	cite := lineNumbers
	if len(cite) > 2 {
		cite = cite[:2]
	}

	var causes []Cause
	for _, rule := range causeRules {
		if len(causes) == maxFallbackCauses {
			break
		}
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				causes = append(causes, Cause{
					Hypothesis:          rule.hypothesis,
					EvidenceLineNumbers: append([]int(nil), cite...),
				})
				break
			}
		}
	}

	if len(causes) == 0 {
		causes = append(causes, Cause{
			Hypothesis:          genericHypothesis,
			EvidenceLineNumbers: append([]int(nil), cite...),
		})
	}
	return causes
}

func fallbackSteps(b *evidence.Bundle) []string {
	steps := []string{"Review the sample log entries for detailed error context"}

	if len(b.Services) > 0 {
		steps = append(steps, "Check health and metrics for: "+strings.Join(b.Services, ", "))
	}
	if b.Stats.ErrorCount > 10 {
		steps = append(steps, "High error count - consider immediate investigation")
	}
	if span := b.Stats.TimeSpanSeconds; span != nil && *span > 0 && *span < 60 {
		steps = append(steps, "Rapid occurrence - check for cascading failures")
	}
	steps = append(steps,
		"Search for related incidents in monitoring systems",
		"Correlate with recent deployments or configuration changes",
	)

	if len(steps) > maxFallbackSteps {
		steps = steps[:maxFallbackSteps]
	}
	return steps
}
