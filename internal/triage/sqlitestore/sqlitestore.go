// Package sqlitestore provides a SQLite implementation of triage.Store for
// single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signaltrace/internal/triage/sqlitestore")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	filename      TEXT NOT NULL,
	source        TEXT NOT NULL,
	encoding      TEXT NOT NULL DEFAULT '',
	num_lines     INTEGER NOT NULL,
	num_incidents INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	duration_s    REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS incidents (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	rank              INTEGER NOT NULL,
	signature         TEXT NOT NULL,
	error_type        TEXT NOT NULL,
	score             REAL NOT NULL,
	priority          TEXT NOT NULL,
	severity          TEXT NOT NULL,
	title             TEXT NOT NULL,
	count             INTEGER NOT NULL,
	services          TEXT NOT NULL,
	first_seen        TEXT NOT NULL,
	last_seen         TEXT NOT NULL,
	stats             TEXT NOT NULL,
	evidence          TEXT NOT NULL,
	explanation       TEXT NOT NULL,
	used_llm          INTEGER NOT NULL,
	validation_errors TEXT NOT NULL,
	UNIQUE (run_id, rank)
);
`

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store persists runs and incidents in a SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const runColumns = `id, filename, source, encoding, num_lines, num_incidents, created_at, duration_s`

const incidentColumns = `id, run_id, rank, signature, error_type, score, priority, severity, title,
	count, services, first_seen, last_seen, stats, evidence, explanation, used_llm, validation_errors`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// CreateRun inserts the run and its incidents in one transaction.
func (s *Store) CreateRun(ctx context.Context, run *triage.Run, incidents []*triage.Incident) error {
	ctx, span := startSpan(ctx, "sqlitestore.CreateRun", "INSERT")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Filename, string(run.Source), run.Encoding, run.NumLines, run.NumIncidents,
		formatTime(run.CreatedAt), run.Duration,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert run: %w", err))
	}

	for _, inc := range incidents {
		if err := insertIncident(ctx, tx, inc); err != nil {
			return fail(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertIncident(ctx context.Context, tx *sql.Tx, inc *triage.Incident) error {
	services, err := json.Marshal(nonNil(inc.Services))
	if err != nil {
		return fmt.Errorf("marshal services: %w", err)
	}
	stats, err := json.Marshal(inc.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	ev, err := json.Marshal(inc.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	exp, err := json.Marshal(inc.Explanation)
	if err != nil {
		return fmt.Errorf("marshal explanation: %w", err)
	}
	verrs, err := json.Marshal(nonNil(inc.Validation.Errors))
	if err != nil {
		return fmt.Errorf("marshal validation errors: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.RunID, inc.Rank, inc.Signature, inc.ErrorType, inc.Score,
		string(inc.Priority), inc.Severity.String(), inc.Title, inc.Count, string(services),
		formatTime(inc.FirstSeen), formatTime(inc.LastSeen), string(stats), string(ev), string(exp),
		inc.Validation.UsedLLM, string(verrs),
	)
	if err != nil {
		return fmt.Errorf("insert incident rank %d: %w", inc.Rank, err)
	}
	return nil
}

// GetRun retrieves a run header by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*triage.Run, bool, error) {
	ctx, span := startSpan(ctx, "sqlitestore.GetRun", "SELECT")
	defer span.End()

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
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
	ctx, span := startSpan(ctx, "sqlitestore.ListRuns", "SELECT")
	defer span.End()

	if limit < 1 {
		limit = triage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
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
	ctx, span := startSpan(ctx, "sqlitestore.ListIncidents", "SELECT")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE run_id = ? ORDER BY rank`, runID)
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
	ctx, span := startSpan(ctx, "sqlitestore.GetIncident", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE run_id = ? AND id = ?`, runID, incidentID))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// DeleteRunsBefore removes runs created before t along with their incidents.
func (s *Store) DeleteRunsBefore(ctx context.Context, t time.Time) (int, error) {
	ctx, span := startSpan(ctx, "sqlitestore.DeleteRunsBefore", "DELETE")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, formatTime(t))
	if err != nil {
		return 0, fail(span, fmt.Errorf("delete runs: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fail(span, fmt.Errorf("rows affected: %w", err))
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun returns (nil, nil) when no row is found.
func scanRun(row scanner) (*triage.Run, error) {
	var (
		r         triage.Run
		source    string
		createdAt string
	)
	err := row.Scan(&r.ID, &r.Filename, &source, &r.Encoding, &r.NumLines, &r.NumIncidents, &createdAt, &r.Duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Source = triage.Source(source)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// scanIncident returns (nil, nil) when no row is found.
func scanIncident(row scanner) (*triage.Incident, error) {
	var (
		inc                          triage.Incident
		priority, severity           string
		firstSeen, lastSeen          string
		services, stats, ev, exp, ve string
	)
	err := row.Scan(
		&inc.ID, &inc.RunID, &inc.Rank, &inc.Signature, &inc.ErrorType, &inc.Score,
		&priority, &severity, &inc.Title, &inc.Count, &services,
		&firstSeen, &lastSeen, &stats, &ev, &exp,
		&inc.Validation.UsedLLM, &ve,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Priority = scoring.Priority(priority)
	inc.Severity, _ = logparse.ParseSeverity(severity)
	if inc.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if inc.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		name string
		src  string
		dst  any
	}{
		{"services", services, &inc.Services},
		{"stats", stats, &inc.Stats},
		{"evidence", ev, &inc.Evidence},
		{"explanation", exp, &inc.Explanation},
		{"validation errors", ve, &inc.Validation.Errors},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", f.name, err)
		}
	}
	return &inc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ triage.Store = (*Store)(nil)
