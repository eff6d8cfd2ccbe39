package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	vc "github.com/linnemanlabs/signaltrace/internal/cfg"
	"github.com/linnemanlabs/signaltrace/internal/postgres"
	"github.com/linnemanlabs/signaltrace/internal/triage"
	"github.com/linnemanlabs/signaltrace/internal/triage/memstore"
	"github.com/linnemanlabs/signaltrace/internal/triage/sqlitestore"
)

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	st, closeFn, err := openStore(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", st)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.db")
	st, closeFn, err := openStore(context.Background(), &vc.Config{SQLitePath: path}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*sqlitestore.Store); !ok {
		t.Fatalf("store = %T, want *sqlitestore.Store", st)
	}

	run := &triage.Run{ID: "r1", Filename: "a.log", Source: triage.SourceUpload, CreatedAt: time.Now().UTC()}
	if err := st.CreateRun(context.Background(), run, nil); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func TestOpenStore_BadPostgresURL(t *testing.T) {
	t.Parallel()

	_, _, err := openStore(context.Background(), &vc.Config{DatabaseURL: "postgres://%zz"}, log.Nop())
	if err == nil {
		t.Fatal("expected error for malformed database url")
	}
}

func TestExplainerMode(t *testing.T) {
	t.Parallel()

	if got := explainerMode(""); got != "fallback" {
		t.Errorf("explainerMode(\"\") = %q", got)
	}
	if got := explainerMode("sk-x"); got != "claude" {
		t.Errorf("explainerMode(key) = %q", got)
	}
}

func TestDBStats_AttachesCollector(t *testing.T) {
	t.Parallel()

	var seen *postgres.ReqDBStats
	h := dbStats(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := postgres.ReqDBStatsFromContext(r.Context())
		if !ok {
			t.Error("no ReqDBStats in request context")
			return
		}
		s.AddQuery(5*time.Millisecond, nil)
		s.AddQuery(time.Millisecond, errors.New("boom"))
		seen = s
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if seen == nil {
		t.Fatal("handler did not run")
	}
	if count, total, errs := seen.Snapshot(); count != 2 || total != 6*time.Millisecond || errs != 1 {
		t.Errorf("Snapshot() = %d, %s, %d", count, total, errs)
	}
}
