// internal/triage/engine.go
package triage

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/explain"
	"github.com/linnemanlabs/signaltrace/internal/grouping"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
)

var tracer = otel.Tracer("github.com/linnemanlabs/signaltrace/internal/triage")

// incidentNamespace scopes name-based incident IDs.
var incidentNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("signaltrace.incident"))

// Pipeline stage names used in timings, logs and metrics.
const (
	StageParse    = "parse"
	StageGroup    = "group"
	StageEvidence = "evidence"
	StageExplain  = "explain"
	StagePersist  = "persist"
)

// Timings holds per-stage wall time in seconds. Evidence and Explain are
// summed across incidents.
type Timings struct {
	Parse    float64 `json:"parse"`
	Group    float64 `json:"group"`
	Evidence float64 `json:"evidence"`
	Explain  float64 `json:"explain"`
	Persist  float64 `json:"persist"`
}

// Analysis is the engine's output for one batch.
type Analysis struct {
	NumLines   int
	NumRecords int
	Incidents  []*Incident
	Timings    Timings
}

// CompleteEvent describes a finished run for metrics.
type CompleteEvent struct {
	Outcome   string
	Source    Source
	Duration  float64
	Lines     int
	Incidents int
	Timings   Timings
}

// Run outcomes reported in CompleteEvent.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// EngineHooks are optional callbacks for metrics.
type EngineHooks struct {
	OnIncident func(inc *Incident)
	OnComplete func(e *CompleteEvent)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWorkers bounds concurrent per-incident work. Values below 1 are ignored.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock overrides the reference time used for defaulted timestamps and
// recency.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs the triage pipeline over decoded log text: parse, group, then
// evidence, guardrail and score for each group.
type Engine struct {
	grouper   *grouping.Engine
	scorer    *scoring.Scorer
	builder   *evidence.Builder
	guardrail *explain.Guardrail
	logger    log.Logger
	hooks     EngineHooks
	workers   int
	now       func() time.Time
}

// NewEngine creates a new triage engine with the given dependencies.
func NewEngine(scorer *scoring.Scorer, builder *evidence.Builder, guardrail *explain.Guardrail, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		grouper:   grouping.New(scorer.Config().SeverityWeights),
		scorer:    scorer,
		builder:   builder,
		guardrail: guardrail,
		logger:    logger,
		hooks:     hooks,
		workers:   runtime.GOMAXPROCS(0),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Analyze runs the pipeline over text for the given run. Incidents come back
// in rank order. It fails only when ctx is cancelled.
func (e *Engine) Analyze(ctx context.Context, runID, text string) (*Analysis, error) {
	ctx, span := tracer.Start(ctx, "triage.Analyze", trace.WithAttributes(
		attribute.String("run.id", runID),
	))
	defer span.End()

	now := e.now()
	a := &Analysis{NumLines: logparse.CountLines(text)}

	start := time.Now()
	records := logparse.Parse(text, now)
	a.NumRecords = len(records)
	a.Timings.Parse = time.Since(start).Seconds()

	start = time.Now()
	groups := e.grouper.Group(records)
	a.Timings.Group = time.Since(start).Seconds()

	span.SetAttributes(
		attribute.Int("run.lines", a.NumLines),
		attribute.Int("run.records", a.NumRecords),
		attribute.Int("run.groups", len(groups)),
	)

	type result struct {
		inc      *Incident
		evidence time.Duration
		explain  time.Duration
	}
	results := make([]result, len(groups))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for i, g := range groups {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			inc, ev, ex := e.incident(egCtx, runID, i+1, g, now)
			results[i] = result{inc: inc, evidence: ev, explain: ex}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("analyze: %w", err)
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("analyze: %w", err)
	}

	a.Incidents = make([]*Incident, 0, len(results))
	for _, r := range results {
		a.Incidents = append(a.Incidents, r.inc)
		a.Timings.Evidence += r.evidence.Seconds()
		a.Timings.Explain += r.explain.Seconds()
		if e.hooks.OnIncident != nil {
			e.hooks.OnIncident(r.inc)
		}
	}
	return a, nil
}

// incident builds one ranked incident. Rank is fixed by the caller from
// grouping order, never by completion order.
func (e *Engine) incident(ctx context.Context, runID string, rank int, g *grouping.Group, now time.Time) (*Incident, time.Duration, time.Duration) {
	ctx, span := tracer.Start(ctx, "triage.incident", trace.WithAttributes(
		attribute.Int("incident.rank", rank),
		attribute.Int("incident.count", g.Count()),
		attribute.String("incident.severity", g.Severity.String()),
	))
	defer span.End()

	start := time.Now()
	bundle := e.builder.Build(g)
	evidenceTime := time.Since(start)

	start = time.Now()
	out := e.guardrail.Explain(ctx, bundle, g.Signature)
	explainTime := time.Since(start)

	signals := scoring.ComputeSignals(g.Count(), g.Services, g.Window.LastSeen, bundle.Stats.TimeSpanSeconds, now)
	score := e.scorer.Score(g.Severity, signals)

	inc := &Incident{
		ID:          incidentID(runID, g.Key, rank),
		RunID:       runID,
		Rank:        rank,
		Signature:   g.Signature,
		ErrorType:   g.ErrorType,
		Score:       scoring.Round4(score),
		Priority:    e.scorer.Priority(score),
		Severity:    g.Severity,
		Title:       out.Explanation.Title,
		Count:       g.Count(),
		Services:    g.Services,
		FirstSeen:   g.Window.FirstSeen,
		LastSeen:    g.Window.LastSeen,
		Stats:       bundle.Stats,
		Evidence:    bundle,
		Explanation: out.Explanation,
		Validation:  out.Validation,
	}

	span.SetAttributes(
		attribute.String("incident.priority", string(inc.Priority)),
		attribute.String("guardrail.outcome", out.Label()),
	)

	e.logger.Info(ctx, "incident explained",
		"run_id", runID,
		"rank", rank,
		"signature", g.Signature,
		"count", inc.Count,
		"priority", inc.Priority,
		"guardrail", out.Label(),
		"external_calls", out.Calls,
	)

	return inc, evidenceTime, explainTime
}

func incidentID(runID string, key grouping.Key, rank int) string {
	name := fmt.Sprintf("%s|%s|%d", runID, key, rank)
	return uuid.NewSHA1(incidentNamespace, []byte(name)).String()
}
