// Package logapi is the HTTP surface for uploading logs and browsing runs.
package logapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/signaltrace/internal/source/loki"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

// DefaultMaxUploadBytes bounds an upload when no limit is configured.
const DefaultMaxUploadBytes = 50 << 20

// RunService defines the business operations logapi needs.
type RunService interface {
	AnalyzeUpload(ctx context.Context, filename string, data []byte) (*triage.RunDetail, error)
	AnalyzeText(ctx context.Context, source triage.Source, filename, text string) (*triage.RunDetail, error)
	ListRuns(ctx context.Context, limit int) ([]*triage.Run, error)
	GetRun(ctx context.Context, id string) (*triage.RunDetail, bool, error)
	GetIncident(ctx context.Context, runID, incidentID string) (*triage.Incident, bool, error)
}

// LogSource fetches a bounded window of log lines.
type LogSource interface {
	Fetch(ctx context.Context, q loki.Query) (*loki.Batch, error)
}

// Option configures an API.
type Option func(*API)

// WithLoki enables POST /analyze/loki.
func WithLoki(src LogSource) Option {
	return func(a *API) { a.loki = src }
}

// WithMaxUploadBytes bounds the multipart upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

// WithMiddleware wraps every /api/v1 route, e.g. with authentication.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(a *API) { a.middleware = append(a.middleware, mw...) }
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger         log.Logger
	svc            RunService
	loki           LogSource
	maxUploadBytes int64
	middleware     []func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	a := &API{
		logger:         logger,
		svc:            svc,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.middleware...)
		r.Post("/analyze", a.handleAnalyzeUpload)
		r.Post("/analyze/loki", a.handleAnalyzeLoki)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{run_id}", a.handleGetRun)
		r.Get("/runs/{run_id}/incidents/{incident_id}", a.handleGetIncident)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
