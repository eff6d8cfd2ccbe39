package claude

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/explain"
)

const systemPromptTemplate = `You are a senior site reliability engineer analyzing log incidents.
Your task is to explain what happened and suggest next steps based ONLY on the evidence provided.

CRITICAL RULES:
1. Output ONLY valid JSON matching the required schema - no markdown, no explanation outside JSON
2. Base ALL conclusions on the evidence provided - no speculation
3. Every hypothesis MUST cite specific evidence_line_numbers from the sample logs
4. referenced_line_numbers must include ALL line numbers you cite anywhere
5. Only mention IP addresses and ports that appear in the sample logs
6. Use hedged language; do not prescribe destructive or irreversible actions
7. Be concise and actionable

JSON Schema you MUST follow:
%s`

const repairSystemPrompt = "You are a JSON repair assistant. Output ONLY valid JSON."

func systemPrompt() string {
	return fmt.Sprintf(systemPromptTemplate, explain.SchemaJSON)
}

func userPrompt(b *evidence.Bundle, signature string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Analyze this log incident:\n\n")
	fmt.Fprintf(&sb, "INCIDENT SIGNATURE: %s\n\n", signature)

	services := "Unknown"
	if len(b.Services) > 0 {
		services = strings.Join(b.Services, ", ")
	}
	fmt.Fprintf(&sb, "STATISTICS:\n")
	fmt.Fprintf(&sb, "- Total occurrences: %d\n", b.Stats.TotalCount)
	fmt.Fprintf(&sb, "- Error count: %d\n", b.Stats.ErrorCount)
	fmt.Fprintf(&sb, "- Warning count: %d\n", b.Stats.WarnCount)
	fmt.Fprintf(&sb, "- Services affected: %s\n", services)
	fmt.Fprintf(&sb, "- Time window: %s\n\n", timeWindow(b.TimeWindow.FirstSeen, b.TimeWindow.LastSeen))

	fmt.Fprintf(&sb, "SAMPLE LOG LINES (cite these line numbers in your analysis):\n")
	for _, line := range b.SampleLines {
		fmt.Fprintf(&sb, "[Line %d] %s\n", line.LineNumber, line.Raw)
	}

	sb.WriteString("\nRespond with ONLY a valid JSON object matching the schema. Do not include any text outside the JSON.")
	return sb.String()
}

func timeWindow(first, last time.Time) string {
	switch {
	case !first.IsZero() && !last.IsZero():
		return first.UTC().Format(time.RFC3339) + " to " + last.UTC().Format(time.RFC3339)
	case !first.IsZero():
		return "From " + first.UTC().Format(time.RFC3339)
	default:
		return "Unknown"
	}
}

func repairPrompt(invalidJSON, errorText string) string {
	return fmt.Sprintf(`The following JSON is invalid or doesn't match the required schema.

ORIGINAL JSON:
%s

ERRORS:
%s

REQUIRED SCHEMA:
%s

Please output ONLY the corrected valid JSON with no other text.`, invalidJSON, errorText, explain.SchemaJSON)
}
