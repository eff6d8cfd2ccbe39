package memstore

import (
	"context"
	"testing"

	"github.com/linnemanlabs/signaltrace/internal/triage"
	"github.com/linnemanlabs/signaltrace/internal/triage/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(*testing.T) triage.Store { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	inc := storetest.NewIncident("r", 1)
	if err := s.CreateRun(ctx, storetest.NewRun("r", 0), []*triage.Incident{inc}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	inc.Title = "mutated after create"

	got, _, _ := s.GetIncident(ctx, "r", inc.ID)
	if got.Title != "Incident 1" {
		t.Errorf("Title = %q, want stored copy unaffected", got.Title)
	}
	got.Rank = 99

	again, _, _ := s.GetIncident(ctx, "r", inc.ID)
	if again.Rank != 1 {
		t.Errorf("Rank = %d, want 1", again.Rank)
	}
}
