// Package loki fetches bounded log windows from Grafana Loki for analysis.
package loki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signaltrace/internal/source/loki")

// Window and limit bounds applied to every query.
const (
	DefaultWindow = time.Hour
	MaxWindow     = 6 * time.Hour
	DefaultLimit  = 1000
	MaxLimit      = 5000

	maxResponseBytes = 32 << 20
	successStatus    = "success"
)

// ErrEmptyQuery is returned when no LogQL expression is given.
var ErrEmptyQuery = errors.New("loki: query is required")

// Query describes one window to fetch. Zero times and limits take defaults.
type Query struct {
	Expr  string
	Start time.Time
	End   time.Time
	Limit int
}

// Entry is one log line with its stream labels.
type Entry struct {
	Timestamp time.Time
	Line      string
	Labels    map[string]string
}

// Batch is the result of a fetch, ordered oldest first.
type Batch struct {
	Query     Query
	Entries   []Entry
	Truncated bool
}

// Filename is the run filename recorded for a batch.
func (b *Batch) Filename() string { return "loki:" + b.Query.Expr }

// Text joins the entry lines, one per line.
func (b *Batch) Text() string {
	var sb strings.Builder
	for i, e := range b.Entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Line)
	}
	return sb.String()
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     []lokiStream `json:"result"`
	} `json:"data"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock overrides the time used to default the window end.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client queries Loki's query_range API.
type Client struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Loki client for endpoint. tenantID is sent as X-Scope-OrgID
// when non-empty.
func New(endpoint, tenantID string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Normalize applies defaults and bounds to q: the window defaults to the
// last hour, is capped to MaxWindow by moving Start forward, and the limit
// is clamped to [1, MaxLimit].
func (c *Client) Normalize(q Query) (Query, error) {
	q.Expr = strings.TrimSpace(q.Expr)
	if q.Expr == "" {
		return q, ErrEmptyQuery
	}

	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	if q.End.IsZero() {
		q.End = c.now().UTC()
	}
	if q.Start.IsZero() {
		q.Start = q.End.Add(-DefaultWindow)
	}
	if !q.Start.Before(q.End) {
		return q, fmt.Errorf("loki: start %s is not before end %s", q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	if q.End.Sub(q.Start) > MaxWindow {
		q.Start = q.End.Add(-MaxWindow)
	}
	return q, nil
}

// Fetch runs q against Loki and returns the newest Limit entries in the
// window, ordered oldest first.
func (c *Client) Fetch(ctx context.Context, q Query) (*Batch, error) {
	q, err := c.Normalize(q)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "loki.Fetch", trace.WithAttributes(
		attribute.String("loki.query", q.Expr),
		attribute.Int("loki.limit", q.Limit),
		attribute.Float64("loki.window_seconds", q.End.Sub(q.Start).Seconds()),
	))
	defer span.End()

	batch, err := c.fetch(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("loki.entries", len(batch.Entries)),
		attribute.Bool("loki.truncated", batch.Truncated),
	)
	return batch, nil
}

func (c *Client) fetch(ctx context.Context, q Query) (*Batch, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("loki: invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")

	params := u.Query()
	params.Set("query", q.Expr)
	params.Set("start", strconv.FormatInt(q.Start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(q.End.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("direction", "backward")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("loki: create request: %w", err)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.tenantID)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: endpoint comes from config; user input is query-string encoded
	if err != nil {
		return nil, fmt.Errorf("loki: query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("loki: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki: returned %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var lr lokiResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("loki: decode response: %w", err)
	}
	if lr.Status != successStatus {
		return nil, fmt.Errorf("loki: query status %q", lr.Status)
	}
	if lr.Data.ResultType != "" && lr.Data.ResultType != "streams" {
		return nil, fmt.Errorf("loki: unexpected result type %q", lr.Data.ResultType)
	}

	entries := flattenStreams(lr.Data.Result)
	truncated := len(entries) >= q.Limit
	if len(entries) > q.Limit {
		// keep the newest Limit lines
		entries = entries[len(entries)-q.Limit:]
	}
	return &Batch{Query: q, Entries: entries, Truncated: truncated}, nil
}

// flattenStreams merges all stream values into one slice ordered by
// timestamp ascending. Malformed values are skipped.
func flattenStreams(streams []lokiStream) []Entry {
	var entries []Entry
	for _, s := range streams {
		for _, v := range s.Values {
			if len(v) < 2 {
				continue
			}
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Timestamp: time.Unix(0, ns).UTC(),
				Line:      v[1],
				Labels:    s.Stream,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
