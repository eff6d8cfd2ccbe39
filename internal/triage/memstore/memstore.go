// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/triage"
)

// Store holds runs and incidents in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*triage.Run        // run ID -> run
	incidents map[string][]*triage.Incident // run ID -> incidents in rank order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		runs:      make(map[string]*triage.Run),
		incidents: make(map[string][]*triage.Incident),
	}
}

// CreateRun stores copies of the run and its incidents.
func (s *Store) CreateRun(_ context.Context, run *triage.Run, incidents []*triage.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *run
	s.runs[run.ID] = &r

	incs := make([]*triage.Incident, len(incidents))
	for i, inc := range incidents {
		cp := *inc
		incs[i] = &cp
	}
	sort.SliceStable(incs, func(i, j int) bool { return incs[i].Rank < incs[j].Rank })
	s.incidents[run.ID] = incs
	return nil
}

// GetRun retrieves a run by its ID. Returns a copy.
func (s *Store) GetRun(_ context.Context, id string) (*triage.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]*triage.Run, error) {
	if limit < 1 {
		limit = triage.DefaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListIncidents returns copies of a run's incidents in rank order.
func (s *Store) ListIncidents(_ context.Context, runID string) ([]*triage.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incs := s.incidents[runID]
	out := make([]*triage.Incident, len(incs))
	for i, inc := range incs {
		cp := *inc
		out[i] = &cp
	}
	return out, nil
}

// GetIncident retrieves one incident scoped to its run. Returns a copy.
func (s *Store) GetIncident(_ context.Context, runID, incidentID string) (*triage.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents[runID] {
		if inc.ID == incidentID {
			cp := *inc
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// DeleteRunsBefore drops runs created before t along with their incidents.
func (s *Store) DeleteRunsBefore(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.runs {
		if r.CreatedAt.Before(t) {
			delete(s.runs, id)
			delete(s.incidents, id)
			n++
		}
	}
	return n, nil
}

var _ triage.Store = (*Store)(nil)
