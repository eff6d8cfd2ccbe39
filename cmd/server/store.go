package main

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	vc "github.com/linnemanlabs/signaltrace/internal/cfg"
	"github.com/linnemanlabs/signaltrace/internal/postgres"
	"github.com/linnemanlabs/signaltrace/internal/triage"
	"github.com/linnemanlabs/signaltrace/internal/triage/memstore"
	"github.com/linnemanlabs/signaltrace/internal/triage/pgstore"
	"github.com/linnemanlabs/signaltrace/internal/triage/sqlitestore"
)

// openStore picks the run store from config: postgres, then sqlite, then
// in-memory. The returned close func is always non-nil.
func openStore(ctx context.Context, appCfg *vc.Config, L log.Logger) (triage.Store, func(), error) {
	switch {
	case appCfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return pgStore, pool.Close, nil

	case appCfg.SQLitePath != "":
		sqlStore, err := sqlitestore.New(appCfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", appCfg.SQLitePath)
		return sqlStore, func() {
			if err := sqlStore.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close sqlite store")
			}
		}, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}

func explainerMode(apiKey string) string {
	if apiKey == "" {
		return "fallback"
	}
	return "claude"
}

// dbStats collects per-request DB query totals and records them on the
// request span.
func dbStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := postgres.NewReqDBStatsContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		stats, ok := postgres.ReqDBStatsFromContext(ctx)
		if !ok {
			return
		}
		count, total, errs := stats.Snapshot()
		if count == 0 {
			return
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("db.queries", count),
			attribute.Float64("db.time_seconds", total.Seconds()),
			attribute.Int("db.errors", errs),
		)
	})
}
