package logapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/signaltrace/internal/triage"
)

// maxListLimit caps ?limit= on GET /runs.
const maxListLimit = 500

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := triage.DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := a.svc.ListRuns(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list runs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []*triage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("signaltrace.run.id", id))

	detail, ok, err := a.svc.GetRun(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run", "run_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	incidentID := chi.URLParam(r, "incident_id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("signaltrace.run.id", runID),
		attribute.String("signaltrace.incident.id", incidentID),
	)

	inc, ok, err := a.svc.GetIncident(r.Context(), runID, incidentID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "run_id", runID, "incident_id", incidentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found in run: "+incidentID)
		return
	}

	span.SetAttributes(attribute.String("signaltrace.incident.priority", string(inc.Priority)))
	writeJSON(w, http.StatusOK, inc)
}
