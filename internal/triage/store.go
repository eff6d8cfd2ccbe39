package triage

import (
	"context"
	"time"
)

// DefaultListLimit caps ListRuns when the caller passes no limit.
const DefaultListLimit = 50

// Store is the persistence interface for runs and incidents.
type Store interface {
	// CreateRun persists a run and all of its incidents atomically.
	CreateRun(ctx context.Context, run *Run, incidents []*Incident) error
	GetRun(ctx context.Context, id string) (*Run, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	// ListIncidents returns a run's incidents in rank order.
	ListIncidents(ctx context.Context, runID string) ([]*Incident, error)
	GetIncident(ctx context.Context, runID, incidentID string) (*Incident, bool, error)
	// DeleteRunsBefore removes runs created before t and returns how many.
	DeleteRunsBefore(ctx context.Context, t time.Time) (int, error)
}
