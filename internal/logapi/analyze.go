package logapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/signaltrace/internal/source/loki"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// MultipartOverhead is the request body allowance beyond the file limit
// for multipart framing and headers.
const MultipartOverhead = 1 << 20

// lokiRequestMaxBytes bounds the JSON body of /analyze/loki.
const lokiRequestMaxBytes = 64 << 10

func (a *API) handleAnalyzeUpload(w http.ResponseWriter, r *http.Request) {
	bodyLimit := a.maxUploadBytes + MultipartOverhead
	if r.ContentLength > bodyLimit {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = f.Close() }()

	filename := cleanFilename(hdr.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, "no filename provided")
		return
	}
	if hdr.Size > a.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	data, err := io.ReadAll(io.LimitReader(f, a.maxUploadBytes+1))
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read upload", "filename", filename)
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}
	if int64(len(data)) > a.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("signaltrace.upload.filename", filename),
		attribute.Int("signaltrace.upload.bytes", len(data)),
	)

	a.logger.Info(r.Context(), "received upload", "filename", filename, "bytes", len(data))

	detail, err := a.svc.AnalyzeUpload(r.Context(), filename, data)
	if err != nil {
		a.logger.Error(r.Context(), err, "analysis failed", "filename", filename)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	a.respondRun(w, r, detail)
}

type lokiRequest struct {
	Query string `json:"query"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (r lokiRequest) toQuery() (loki.Query, error) {
	q := loki.Query{Expr: r.Query, Limit: r.Limit}
	var err error
	if r.Start != "" {
		if q.Start, err = time.Parse(time.RFC3339, r.Start); err != nil {
			return q, errors.New("start must be RFC3339")
		}
	}
	if r.End != "" {
		if q.End, err = time.Parse(time.RFC3339, r.End); err != nil {
			return q, errors.New("end must be RFC3339")
		}
	}
	return q, nil
}

func (a *API) handleAnalyzeLoki(w http.ResponseWriter, r *http.Request) {
	if a.loki == nil {
		writeError(w, http.StatusNotFound, "loki source not configured")
		return
	}

	var req lokiRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, lokiRequestMaxBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	q, err := req.toQuery()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(q.Expr) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("signaltrace.loki.query", q.Expr))

	batch, err := a.loki.Fetch(r.Context(), q)
	if err != nil {
		a.logger.Error(r.Context(), err, "loki fetch failed", "query", q.Expr)
		writeError(w, http.StatusBadGateway, "loki query failed")
		return
	}

	a.logger.Info(r.Context(), "fetched loki window",
		"query", batch.Query.Expr,
		"start", batch.Query.Start.Format(time.RFC3339),
		"end", batch.Query.End.Format(time.RFC3339),
		"entries", len(batch.Entries),
		"truncated", batch.Truncated,
	)

	detail, err := a.svc.AnalyzeText(r.Context(), triage.SourceLoki, batch.Filename(), batch.Text())
	if err != nil {
		a.logger.Error(r.Context(), err, "analysis failed", "query", q.Expr)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	a.respondRun(w, r, detail)
}

func (a *API) respondRun(w http.ResponseWriter, r *http.Request, detail *triage.RunDetail) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("signaltrace.run.id", detail.Run.ID),
		attribute.Int("signaltrace.run.incidents", detail.Run.NumIncidents),
	)
	writeJSON(w, http.StatusOK, detail)
}

// cleanFilename keeps only the base name of a client-supplied filename.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
