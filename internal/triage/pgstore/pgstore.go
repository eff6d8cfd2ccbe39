// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/postgres"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signaltrace/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists runs and incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(postgres.WithOperation(ctx, "pgstore.migrate"), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const runColumns = `id, filename, source, encoding, num_lines, num_incidents, created_at, duration_s`

const incidentColumns = `id, run_id, rank, signature, error_type, score, priority, severity, title,
	count, services, first_seen, last_seen, stats, evidence, explanation, used_llm, validation_errors`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
	return postgres.WithOperation(ctx, name), span
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CreateRun inserts the run and its incidents in one transaction.
func (s *Store) CreateRun(ctx context.Context, run *triage.Run, incidents []*triage.Incident) error {
	ctx, span := startSpan(ctx, "pgstore.CreateRun", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("incidents", len(incidents)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID, run.Filename, string(run.Source), run.Encoding, run.NumLines, run.NumIncidents,
		run.CreatedAt, run.Duration,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert run: %w", err))
	}

	for _, inc := range incidents {
		if err := insertIncident(ctx, tx, inc); err != nil {
			return fail(span, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertIncident(ctx context.Context, tx pgx.Tx, inc *triage.Incident) error {
	enc, err := encodeIncident(inc)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		inc.ID, inc.RunID, inc.Rank, inc.Signature, inc.ErrorType, inc.Score,
		string(inc.Priority), inc.Severity.String(), inc.Title, inc.Count, enc.services,
		inc.FirstSeen, inc.LastSeen, enc.stats, enc.evidence, enc.explanation,
		inc.Validation.UsedLLM, enc.validationErrors,
	)
	if err != nil {
		return fmt.Errorf("insert incident rank %d: %w", inc.Rank, err)
	}
	return nil
}

// GetRun retrieves a run header by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*triage.Run, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetRun", "SELECT")
	defer span.End()

	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*triage.Run, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRuns", "SELECT")
	defer span.End()

	if limit < 1 {
		limit = triage.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query runs: %w", err))
	}
	defer rows.Close()

	var out []*triage.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate runs: %w", err))
	}
	return out, nil
}

// ListIncidents returns a run's incidents in rank order.
func (s *Store) ListIncidents(ctx context.Context, runID string) ([]*triage.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.ListIncidents", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE run_id = $1 ORDER BY rank`, runID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	var out []*triage.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate incidents: %w", err))
	}
	return out, nil
}

// GetIncident retrieves one incident scoped to its run.
func (s *Store) GetIncident(ctx context.Context, runID, incidentID string) (*triage.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE run_id = $1 AND id = $2`, runID, incidentID))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// DeleteRunsBefore removes runs created before t. Incidents go with them via
// ON DELETE CASCADE.
func (s *Store) DeleteRunsBefore(ctx context.Context, t time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.DeleteRunsBefore", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE created_at < $1`, t)
	if err != nil {
		return 0, fail(span, fmt.Errorf("delete runs: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

// scanRun returns (nil, nil) when no row is found.
func scanRun(row pgx.Row) (*triage.Run, error) {
	var (
		r      triage.Run
		source string
	)
	err := row.Scan(&r.ID, &r.Filename, &source, &r.Encoding, &r.NumLines, &r.NumIncidents, &r.CreatedAt, &r.Duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Source = triage.Source(source)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// scanIncident returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*triage.Incident, error) {
	var (
		inc      triage.Incident
		priority string
		severity string
		enc      encodedIncident
	)
	err := row.Scan(
		&inc.ID, &inc.RunID, &inc.Rank, &inc.Signature, &inc.ErrorType, &inc.Score,
		&priority, &severity, &inc.Title, &inc.Count, &enc.services,
		&inc.FirstSeen, &inc.LastSeen, &enc.stats, &enc.evidence, &enc.explanation,
		&inc.Validation.UsedLLM, &enc.validationErrors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Priority = scoring.Priority(priority)
	inc.Severity, _ = logparse.ParseSeverity(severity)
	inc.FirstSeen = inc.FirstSeen.UTC()
	inc.LastSeen = inc.LastSeen.UTC()
	if err := enc.decodeInto(&inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// encodedIncident holds the JSONB columns of an incident row.
type encodedIncident struct {
	services         []byte
	stats            []byte
	evidence         []byte
	explanation      []byte
	validationErrors []byte
}

func encodeIncident(inc *triage.Incident) (encodedIncident, error) {
	var (
		enc encodedIncident
		err error
	)
	fields := []struct {
		name string
		dst  *[]byte
		v    any
	}{
		{"services", &enc.services, nonNil(inc.Services)},
		{"stats", &enc.stats, inc.Stats},
		{"evidence", &enc.evidence, inc.Evidence},
		{"explanation", &enc.explanation, inc.Explanation},
		{"validation errors", &enc.validationErrors, nonNil(inc.Validation.Errors)},
	}
	for _, f := range fields {
		if *f.dst, err = json.Marshal(f.v); err != nil {
			return enc, fmt.Errorf("marshal %s: %w", f.name, err)
		}
	}
	return enc, nil
}

func (enc encodedIncident) decodeInto(inc *triage.Incident) error {
	fields := []struct {
		name string
		src  []byte
		dst  any
	}{
		{"services", enc.services, &inc.Services},
		{"stats", enc.stats, &inc.Stats},
		{"evidence", enc.evidence, &inc.Evidence},
		{"explanation", enc.explanation, &inc.Explanation},
		{"validation errors", enc.validationErrors, &inc.Validation.Errors},
	}
	for _, f := range fields {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return fmt.Errorf("unmarshal %s: %w", f.name, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ triage.Store = (*Store)(nil)
