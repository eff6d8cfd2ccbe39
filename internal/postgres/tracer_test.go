package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"multi line", "SELECT id\n\t  FROM runs\n WHERE id = $1", "SELECT id FROM runs WHERE id = $1"},
		{"already compact", "SELECT 1", "SELECT 1"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := compactSQL(tt.in); got != tt.want {
				t.Errorf("compactSQL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got == nil {
		t.Fatal("expected non-nil stats")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}
}

func TestReqDBStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := ReqDBStatsFromContext(context.Background())
	if ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithOperation_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "pgstore.CreateRun")
	if got := operationFromContext(ctx); got != "pgstore.CreateRun" {
		t.Errorf("operationFromContext = %q, want %q", got, "pgstore.CreateRun")
	}
}

func TestWithOperation_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "")
	if got := operationFromContext(ctx); got != "" {
		t.Errorf("operationFromContext = %q, want empty", got)
	}
}

func TestReqDBStats_Snapshot(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}
	s.AddQuery(3*time.Millisecond, errors.New("boom"))
	n, total, errs := s.Snapshot()
	if n != 1 || total != 3*time.Millisecond || errs != 1 {
		t.Errorf("Snapshot = %d, %v, %d; want 1, 3ms, 1", n, total, errs)
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "pgstore.GetRun", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

type recordingTracer struct {
	starts, ends int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.starts++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	r.ends++
}

func TestLoggingTracer_WrapsInnerAndCountsStats(t *testing.T) {
	t.Parallel()

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner)

	ctx := NewReqDBStatsContext(WithOperation(context.Background(), "pgstore.GetRun"))
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1", Args: []any{1}})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
	})
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT broken"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("syntax error")})

	if inner.starts != 2 || inner.ends != 2 {
		t.Errorf("inner starts/ends = %d/%d, want 2/2", inner.starts, inner.ends)
	}
	stats, _ := ReqDBStatsFromContext(ctx)
	n, _, errs := stats.Snapshot()
	if n != 2 || errs != 1 {
		t.Errorf("stats = %d queries, %d errors; want 2, 1", n, errs)
	}
}

func TestWrapQueryTracer_NilInner(t *testing.T) {
	t.Parallel()

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
}
