package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/grouping"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
)

// authBundle is five refused connections to 10.0.0.5:5432 on lines 1-5.
func authBundle(t *testing.T) (*evidence.Bundle, string) {
	t.Helper()
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"level":"ERROR","service":"auth","message":"Connection refused to 10.0.0.5:5432","timestamp":"2024-01-01T00:00:0%dZ"}`, i))
	}
	now := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	groups := grouping.New(nil).Group(logparse.Parse(strings.Join(lines, "\n"), now))
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	return evidence.New(8).Build(groups[0]), groups[0].Signature
}

const validResponse = `{
  "incident_title": "Auth cannot reach its database",
  "what_happened": "The auth service repeatedly failed to connect to 10.0.0.5:5432.",
  "likely_causes": [
    {"hypothesis": "The database at 10.0.0.5 may be refusing connections", "evidence_line_numbers": [1, 2]}
  ],
  "recommended_next_steps": ["Check whether the database listener on :5432 is up"],
  "confidence": "medium",
  "caveats": ["Only five samples were available"],
  "referenced_line_numbers": [1, 2, 5]
}`

type mockResponse struct {
	raw string
	err error
}

// mockExplainer replays explain and repair responses in order.
type mockExplainer struct {
	mu       sync.Mutex
	explain  mockResponse
	repairs  []mockResponse
	repairIn []string
	calls    int
}

func (m *mockExplainer) Explain(_ context.Context, _ *evidence.Bundle, _ string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.explain.err != nil {
		return nil, m.explain.err
	}
	if m.explain.raw == "" {
		return nil, nil
	}
	return json.RawMessage(m.explain.raw), nil
}

func (m *mockExplainer) Repair(_ context.Context, invalidJSON, errorText string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.repairIn = append(m.repairIn, invalidJSON+"\n--\n"+errorText)
	if len(m.repairs) == 0 {
		return nil, nil
	}
	r := m.repairs[0]
	m.repairs = m.repairs[1:]
	if r.err != nil {
		return nil, r.err
	}
	if r.raw == "" {
		return nil, nil
	}
	return json.RawMessage(r.raw), nil
}
