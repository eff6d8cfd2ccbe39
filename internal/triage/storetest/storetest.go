// Package storetest holds behaviour tests shared by every triage.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/explain"
	"github.com/linnemanlabs/signaltrace/internal/grouping"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewRun returns a run header created offset after a fixed base time.
func NewRun(id string, offset time.Duration) *triage.Run {
	return &triage.Run{
		ID:        id,
		Filename:  id + ".log",
		Source:    triage.SourceUpload,
		Encoding:  "utf-8",
		NumLines:  12,
		CreatedAt: base.Add(offset),
		Duration:  0.25,
	}
}

// NewIncident returns a fully populated incident for run at rank.
func NewIncident(runID string, rank int) *triage.Incident {
	span := 4.0
	first := base.Add(-time.Minute)
	last := first.Add(4 * time.Second)
	bundle := &evidence.Bundle{
		SampleLines: []evidence.SampleLine{
			{LineNumber: 3, Timestamp: first, Service: "auth", Level: logparse.SeverityError, Message: "Connection refused to 10.0.0.5:5432", Raw: "raw-3"},
			{LineNumber: 7, Timestamp: last, Service: "auth", Level: logparse.SeverityError, Message: "Connection refused to 10.0.0.5:5432", Raw: "raw-7"},
		},
		TopMessages: []string{"Connection refused to 10.0.0.5:5432"},
		TimeWindow:  grouping.TimeWindow{FirstSeen: first, LastSeen: last},
		Services:    []string{"auth"},
		Stats: evidence.Stats{
			TotalCount:      2,
			ErrorCount:      2,
			Services:        []string{"auth"},
			TimeSpanSeconds: &span,
		},
	}
	return &triage.Incident{
		ID:        fmt.Sprintf("%s-inc-%d", runID, rank),
		RunID:     runID,
		Rank:      rank,
		Signature: "connection refused to <ip>:<num>",
		ErrorType: "Connection refused to <ip>:<num>",
		Score:     0.6123,
		Priority:  scoring.P1,
		Severity:  logparse.SeverityError,
		Title:     fmt.Sprintf("Incident %d", rank),
		Count:     2,
		Services:  []string{"auth"},
		FirstSeen: first,
		LastSeen:  last,
		Stats:     bundle.Stats,
		Evidence:  bundle,
		Explanation: &explain.Explanation{
			Title:        fmt.Sprintf("Incident %d", rank),
			WhatHappened: "auth failed to connect",
			LikelyCauses: []explain.Cause{
				{Hypothesis: "Network connectivity issue or service unavailable", EvidenceLineNumbers: []int{3, 7}},
			},
			NextSteps:             []string{"Check connectivity"},
			Confidence:            explain.ConfidenceLow,
			Caveats:               []string{"automated"},
			ReferencedLineNumbers: []int{3, 7},
		},
		Validation: explain.Validation{UsedLLM: false, Errors: []string{explain.ErrNotAvailable}},
	}
}

// Run exercises s against the triage.Store contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) triage.Store) {
	t.Helper()

	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		run := NewRun("r-1", 0)
		run.NumIncidents = 2
		if err := s.CreateRun(ctx, run, []*triage.Incident{NewIncident("r-1", 2), NewIncident("r-1", 1)}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}

		got, ok, err := s.GetRun(ctx, "r-1")
		if err != nil || !ok {
			t.Fatalf("GetRun: ok=%v err=%v", ok, err)
		}
		if got.Filename != "r-1.log" || got.NumLines != 12 || got.NumIncidents != 2 || got.Source != triage.SourceUpload {
			t.Errorf("run = %+v", got)
		}
		if !got.CreatedAt.Equal(run.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
		}

		incs, err := s.ListIncidents(ctx, "r-1")
		if err != nil {
			t.Fatalf("ListIncidents: %v", err)
		}
		if len(incs) != 2 || incs[0].Rank != 1 || incs[1].Rank != 2 {
			t.Fatalf("incident ranks = %v, want [1 2]", ranks(incs))
		}
	})

	t.Run("GetRunMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.GetRun(context.Background(), "nope")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if ok {
			t.Error("expected ok=false for missing run")
		}
	})

	t.Run("IncidentDetailRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := NewIncident("r-2", 1)
		if err := s.CreateRun(ctx, NewRun("r-2", 0), []*triage.Incident{want}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}

		got, ok, err := s.GetIncident(ctx, "r-2", want.ID)
		if err != nil || !ok {
			t.Fatalf("GetIncident: ok=%v err=%v", ok, err)
		}
		if got.Signature != want.Signature || got.ErrorType != want.ErrorType || got.Title != want.Title {
			t.Errorf("incident header = %+v", got)
		}
		if got.Score != want.Score || got.Priority != want.Priority || got.Severity != want.Severity || got.Count != want.Count {
			t.Errorf("score/priority/severity/count = %v/%v/%v/%d", got.Score, got.Priority, got.Severity, got.Count)
		}
		if !got.FirstSeen.Equal(want.FirstSeen) || !got.LastSeen.Equal(want.LastSeen) {
			t.Errorf("window = %v..%v", got.FirstSeen, got.LastSeen)
		}
		if got.Evidence == nil || len(got.Evidence.SampleLines) != 2 || got.Evidence.SampleLines[1].LineNumber != 7 {
			t.Errorf("evidence = %+v", got.Evidence)
		}
		if got.Stats.TimeSpanSeconds == nil || *got.Stats.TimeSpanSeconds != 4 {
			t.Errorf("stats = %+v", got.Stats)
		}
		if got.Explanation == nil || len(got.Explanation.LikelyCauses) != 1 || got.Explanation.Confidence != explain.ConfidenceLow {
			t.Errorf("explanation = %+v", got.Explanation)
		}
		if got.Validation.UsedLLM || len(got.Validation.Errors) != 1 || got.Validation.Errors[0] != explain.ErrNotAvailable {
			t.Errorf("validation = %+v", got.Validation)
		}
	})

	t.Run("GetIncidentScopedToRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		inc := NewIncident("r-a", 1)
		if err := s.CreateRun(ctx, NewRun("r-a", 0), []*triage.Incident{inc}); err != nil {
			t.Fatalf("CreateRun a: %v", err)
		}
		if err := s.CreateRun(ctx, NewRun("r-b", time.Second), nil); err != nil {
			t.Fatalf("CreateRun b: %v", err)
		}

		if _, ok, err := s.GetIncident(ctx, "r-b", inc.ID); err != nil || ok {
			t.Errorf("GetIncident other run: ok=%v err=%v, want not found", ok, err)
		}
	})

	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if err := s.CreateRun(ctx, NewRun(fmt.Sprintf("r-%d", i), time.Duration(i)*time.Minute), nil); err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
		}

		runs, err := s.ListRuns(ctx, 3)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != 3 {
			t.Fatalf("len(runs) = %d, want 3", len(runs))
		}
		for i, want := range []string{"r-4", "r-3", "r-2"} {
			if runs[i].ID != want {
				t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, want)
			}
		}
	})

	t.Run("ListIncidentsEmpty", func(t *testing.T) {
		s := newStore(t)
		incs, err := s.ListIncidents(context.Background(), "none")
		if err != nil {
			t.Fatalf("ListIncidents: %v", err)
		}
		if len(incs) != 0 {
			t.Errorf("len = %d, want 0", len(incs))
		}
	})

	t.Run("DeleteRunsBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := NewRun("old", -48*time.Hour)
		fresh := NewRun("fresh", 0)
		if err := s.CreateRun(ctx, old, []*triage.Incident{NewIncident("old", 1)}); err != nil {
			t.Fatalf("CreateRun old: %v", err)
		}
		if err := s.CreateRun(ctx, fresh, []*triage.Incident{NewIncident("fresh", 1)}); err != nil {
			t.Fatalf("CreateRun fresh: %v", err)
		}

		n, err := s.DeleteRunsBefore(ctx, base.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("DeleteRunsBefore: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted = %d, want 1", n)
		}
		if _, ok, _ := s.GetRun(ctx, "old"); ok {
			t.Error("old run still present")
		}
		if _, ok, _ := s.GetIncident(ctx, "old", "old-inc-1"); ok {
			t.Error("old incident still present")
		}
		if _, ok, _ := s.GetRun(ctx, "fresh"); !ok {
			t.Error("fresh run was deleted")
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		wg.Add(n * 2)
		for i := range n {
			id := fmt.Sprintf("c-%d", i)
			go func() {
				defer wg.Done()
				_ = s.CreateRun(ctx, NewRun(id, time.Duration(i)*time.Second), []*triage.Incident{NewIncident(id, 1)})
			}()
			go func() {
				defer wg.Done()
				_, _, _ = s.GetRun(ctx, id)
				_, _ = s.ListRuns(ctx, 10)
			}()
		}
		wg.Wait()

		runs, err := s.ListRuns(ctx, 100)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != n {
			t.Errorf("len(runs) = %d, want %d", len(runs), n)
		}
	})
}

func ranks(incs []*triage.Incident) []int {
	out := make([]int, len(incs))
	for i, inc := range incs {
		out[i] = inc.Rank
	}
	return out
}
