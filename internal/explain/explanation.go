// Package explain produces incident explanations. An optional external
// Explainer is driven through a guardrail state machine that validates the
// response against the evidence, allows one repair attempt and otherwise
// falls back to a deterministic keyword-based explanation.
package explain

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
)

// Confidence is the explainer's self-reported certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c Confidence) valid() bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// Cause is one hypothesis together with the sample lines supporting it.
type Cause struct {
	Hypothesis          string `json:"hypothesis"`
	EvidenceLineNumbers []int  `json:"evidence_line_numbers"`
}

// Explanation is the validated, typed explanation of one incident.
type Explanation struct {
	Title                 string     `json:"incident_title"`
	WhatHappened          string     `json:"what_happened"`
	LikelyCauses          []Cause    `json:"likely_causes"`
	NextSteps             []string   `json:"recommended_next_steps"`
	Confidence            Confidence `json:"confidence"`
	Caveats               []string   `json:"caveats"`
	ReferencedLineNumbers []int      `json:"referenced_line_numbers"`
}

// FreeText concatenates the narrative fields checked for grounding.
func (e *Explanation) FreeText() string {
	parts := []string{e.WhatHappened}
	for _, c := range e.LikelyCauses {
		parts = append(parts, c.Hypothesis)
	}
	parts = append(parts, e.NextSteps...)
	parts = append(parts, e.Caveats...)
	return strings.Join(parts, "\n")
}

// Validation is the audit trail of how an explanation was obtained.
type Validation struct {
	UsedLLM bool     `json:"used_llm"`
	Errors  []string `json:"errors"`
}

// Explainer is the external explanation collaborator. Both calls return the
// loosely typed JSON object produced by the collaborator, or nil when it had
// nothing usable to say. Errors and nil results are treated alike.
type Explainer interface {
	Explain(ctx context.Context, b *evidence.Bundle, signature string) (json.RawMessage, error)
	Repair(ctx context.Context, invalidJSON, errorText string) (json.RawMessage, error)
}

// SchemaJSON describes the response shape expected from an Explainer. It is
// embedded in prompts.
const SchemaJSON = `{
  "type": "object",
  "required": ["incident_title", "what_happened", "likely_causes", "recommended_next_steps", "confidence", "referenced_line_numbers"],
  "properties": {
    "incident_title": {"type": "string", "description": "Short descriptive title for the incident"},
    "what_happened": {"type": "string", "description": "Clear explanation of what occurred"},
    "likely_causes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["hypothesis", "evidence_line_numbers"],
        "properties": {
          "hypothesis": {"type": "string"},
          "evidence_line_numbers": {"type": "array", "items": {"type": "integer"}}
        }
      }
    },
    "recommended_next_steps": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "string", "enum": ["low", "medium", "high"]},
    "caveats": {"type": "array", "items": {"type": "string"}},
    "referenced_line_numbers": {"type": "array", "items": {"type": "integer"}}
  }
}`
