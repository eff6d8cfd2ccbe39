package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/signaltrace/internal/explain"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

func fastBackOff() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

func testRun(n int) *triage.Run {
	return &triage.Run{
		ID:           "01JN123",
		Filename:     "auth.log",
		Source:       triage.SourceUpload,
		NumLines:     120,
		NumIncidents: n,
		CreatedAt:    time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func testIncident(rank int, p scoring.Priority) *triage.Incident {
	return &triage.Incident{
		ID:       "inc",
		Rank:     rank,
		Priority: p,
		Severity: logparse.SeverityError,
		Title:    "Connection refused to db",
		Count:    42,
		Services: []string{"auth", "billing"},
		Score:    0.81,
		Explanation: &explain.Explanation{
			WhatHappened: "The auth service could not reach the database.",
		},
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	incidents := []*triage.Incident{testIncident(1, scoring.P0), testIncident(2, scoring.P1), testIncident(3, scoring.P3)}
	if err := n.Notify(context.Background(), testRun(3), incidents); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, summary, divider, 2 qualifying incidents, divider, context
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "auth.log") {
		t.Errorf("header text = %q, want to contain auth.log", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for P0")
	}

	text, _ := got["text"].(string)
	if !strings.Contains(text, "P0: 1, P1: 1") {
		t.Errorf("fallback text = %q, want priority counts", text)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.Notify(context.Background(), testRun(1), []*triage.Incident{testIncident(1, scoring.P0)}); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_BelowMinPriority(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop(), WithMinPriority(scoring.P1))
	incidents := []*triage.Incident{testIncident(1, scoring.P2), testIncident(2, scoring.P3)}
	if err := n.Notify(context.Background(), testRun(2), incidents); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("webhook called %d times, want 0", calls.Load())
	}
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop(), WithBackOff(fastBackOff))
	if err := n.Notify(context.Background(), testRun(1), []*triage.Incident{testIncident(1, scoring.P0)}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
}

func TestNotify_GivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop(), WithBackOff(fastBackOff))
	err := n.Notify(context.Background(), testRun(1), []*triage.Incident{testIncident(1, scoring.P0)})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != maxTries {
		t.Errorf("attempts = %d, want %d", calls.Load(), maxTries)
	}
}

func TestNotify_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop(), WithBackOff(fastBackOff))
	err := n.Notify(context.Background(), testRun(1), []*triage.Incident{testIncident(1, scoring.P0)})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
}

func TestNotify_CapsIncidents(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var incidents []*triage.Incident
	for i := 1; i <= 9; i++ {
		incidents = append(incidents, testIncident(i, scoring.P0))
	}
	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), testRun(9), incidents); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if blocks := got["blocks"].([]any); len(blocks) != 5+maxIncidents {
		t.Errorf("blocks count = %d, want %d", len(blocks), 5+maxIncidents)
	}
}

func TestPriorityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p    scoring.Priority
		want string
	}{
		{scoring.P0, "\U0001f534"},
		{scoring.P1, "\U0001f7e0"},
		{scoring.P2, "\U0001f7e1"},
		{scoring.P3, "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			t.Parallel()
			if got := priorityEmoji(tt.p); got != tt.want {
				t.Errorf("priorityEmoji(%q) = %q, want %q", tt.p, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	got := truncate(strings.Repeat("é", 200), maxHeaderLen)
	if r := []rune(got); len(r) != maxHeaderLen || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate kept %d runes, want %d ending in ...", len(r), maxHeaderLen)
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("connection refused", "auth.log", "The db was down.")
	f.Add("", "", "")
	f.Add("<@U123> mention", "*bold*.log", "```code``` <http://example.com|link>")
	f.Add("title\x00\x01\x02", "file\nname", "what\ttab")
	f.Add(strings.Repeat("A", 5000), "f.log", strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, title, filename, what string) {
		run := testRun(1)
		run.Filename = filename
		inc := testIncident(1, scoring.P0)
		inc.Title = title
		inc.Explanation.WhatHappened = what

		// Must not panic
		msg := buildMessage(run, []*triage.Incident{inc}, []*triage.Incident{inc})

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if _, ok := decoded["blocks"]; !ok {
			t.Fatal("output missing blocks")
		}
	})
}
