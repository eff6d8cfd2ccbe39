package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/signaltrace/internal/textdecode"
	"github.com/oklog/ulid/v2"
)

// Notifier is told about completed runs.
type Notifier interface {
	Notify(ctx context.Context, run *Run, incidents []*Incident) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier sends completed runs to n. Notification errors are logged,
// never returned.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// Service is the business boundary for triage operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	notifier Notifier
}

// NewService creates a new triage service.
func NewService(store Store, engine *Engine, logger log.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:  store,
		engine: engine,
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AnalyzeUpload decodes an uploaded file and analyzes it.
func (s *Service) AnalyzeUpload(ctx context.Context, filename string, data []byte) (*RunDetail, error) {
	text, enc := textdecode.Decode(data)
	return s.analyze(ctx, SourceUpload, filename, enc, text)
}

// AnalyzeText analyzes already-decoded text, such as a Loki window.
func (s *Service) AnalyzeText(ctx context.Context, source Source, filename, text string) (*RunDetail, error) {
	return s.analyze(ctx, source, filename, textdecode.UTF8, text)
}

func (s *Service) analyze(ctx context.Context, source Source, filename, encoding, text string) (*RunDetail, error) {
	start := time.Now()
	run := &Run{
		ID:        ulid.Make().String(),
		Filename:  filename,
		Source:    source,
		Encoding:  encoding,
		CreatedAt: start.UTC(),
	}

	L := s.logger.With("run_id", run.ID, "filename", filename)

	a, err := s.engine.Analyze(ctx, run.ID, text)
	if err != nil {
		L.Error(ctx, err, "analysis aborted")
		s.complete(run, OutcomeError, start, nil)
		return nil, err
	}

	run.NumLines = a.NumLines
	run.NumIncidents = len(a.Incidents)
	run.Duration = time.Since(start).Seconds()

	persistStart := time.Now()
	if err := s.store.CreateRun(ctx, run, a.Incidents); err != nil {
		L.Error(ctx, err, "failed to persist run")
		s.complete(run, OutcomeError, start, a)
		return nil, fmt.Errorf("persist run: %w", err)
	}
	a.Timings.Persist = time.Since(persistStart).Seconds()

	L.Info(ctx, "run complete",
		"source", source,
		"encoding", encoding,
		"lines", a.NumLines,
		"records", a.NumRecords,
		"incidents", run.NumIncidents,
		"duration", run.Duration,
		"parse_s", a.Timings.Parse,
		"group_s", a.Timings.Group,
		"evidence_s", a.Timings.Evidence,
		"explain_s", a.Timings.Explain,
		"persist_s", a.Timings.Persist,
	)
	s.complete(run, OutcomeSuccess, start, a)

	if s.notifier != nil && len(a.Incidents) > 0 {
		if err := s.notifier.Notify(ctx, run, a.Incidents); err != nil {
			L.Warn(ctx, "run notification failed", "err", err)
		}
	}

	return newRunDetail(run, a.Incidents), nil
}

func (s *Service) complete(run *Run, outcome string, start time.Time, a *Analysis) {
	if s.engine.hooks.OnComplete == nil {
		return
	}
	ev := &CompleteEvent{
		Outcome:  outcome,
		Source:   run.Source,
		Duration: time.Since(start).Seconds(),
	}
	if a != nil {
		ev.Lines = a.NumLines
		ev.Incidents = len(a.Incidents)
		ev.Timings = a.Timings
	}
	s.engine.hooks.OnComplete(ev)
}

// ListRuns returns recent runs, newest first. A limit below 1 means
// DefaultListLimit.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}
	return s.store.ListRuns(ctx, limit)
}

// GetRun returns a run with its incident summaries.
func (s *Service) GetRun(ctx context.Context, id string) (*RunDetail, bool, error) {
	run, ok, err := s.store.GetRun(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	incidents, err := s.store.ListIncidents(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return newRunDetail(run, incidents), true, nil
}

// GetIncident returns full incident detail. An incident belonging to a
// different run is not found.
func (s *Service) GetIncident(ctx context.Context, runID, incidentID string) (*Incident, bool, error) {
	return s.store.GetIncident(ctx, runID, incidentID)
}

// DeleteRunsBefore removes runs created before t.
func (s *Service) DeleteRunsBefore(ctx context.Context, t time.Time) (int, error) {
	return s.store.DeleteRunsBefore(ctx, t)
}
