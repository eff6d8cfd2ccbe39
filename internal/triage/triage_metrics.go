package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/signaltrace/internal/explain"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RunLines           prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	IncidentsTotal     *prometheus.CounterVec
	IncidentScore      prometheus.Histogram
	GuardrailOutcomes  *prometheus.CounterVec
	GuardrailRejects   *prometheus.CounterVec
	ExplainerCalls     *prometheus.CounterVec
	ExplainerTokensIn  prometheus.Counter
	ExplainerTokensOut prometheus.Counter
	ExplainerDuration  *prometheus.HistogramVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaltrace_runs_total",
			Help: "Total analysis runs by source and outcome.",
		}, []string{"source", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaltrace_run_duration_seconds",
			Help:    "Duration of analysis runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~102s
		}, []string{"source"}),
		RunLines: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signaltrace_run_lines",
			Help:    "Input lines per run.",
			Buckets: prometheus.ExponentialBuckets(10, 4, 9), // 10 .. ~655k
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaltrace_stage_duration_seconds",
			Help:    "Per-run time spent in each pipeline stage in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~262s
		}, []string{"stage"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaltrace_incidents_total",
			Help: "Total incidents produced by priority and severity.",
		}, []string{"priority", "severity"}),
		IncidentScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signaltrace_incident_score",
			Help:    "Distribution of incident scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 12), // 0 .. 1.1
		}),
		GuardrailOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaltrace_guardrail_outcomes_total",
			Help: "Guardrail results by outcome (llm, llm_after_retry, fallback).",
		}, []string{"outcome"}),
		GuardrailRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaltrace_guardrail_rejects_total",
			Help: "Explainer responses rejected, by the state that rejected them.",
		}, []string{"state"}),
		ExplainerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaltrace_explainer_calls_total",
			Help: "Total explainer calls by kind and status.",
		}, []string{"kind", "status"}),
		ExplainerTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signaltrace_explainer_tokens_input_total",
			Help: "Total explainer input tokens consumed.",
		}),
		ExplainerTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signaltrace_explainer_tokens_output_total",
			Help: "Total explainer output tokens consumed.",
		}),
		ExplainerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaltrace_explainer_call_duration_seconds",
			Help:    "Duration of individual explainer calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunLines,
		m.StageDuration,
		m.IncidentsTotal,
		m.IncidentScore,
		m.GuardrailOutcomes,
		m.GuardrailRejects,
		m.ExplainerCalls,
		m.ExplainerTokensIn,
		m.ExplainerTokensOut,
		m.ExplainerDuration,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnIncident: func(inc *Incident) {
			m.IncidentsTotal.WithLabelValues(string(inc.Priority), inc.Severity.String()).Inc()
			m.IncidentScore.Observe(inc.Score)
		},
		OnComplete: func(e *CompleteEvent) {
			m.RunsTotal.WithLabelValues(string(e.Source), e.Outcome).Inc()
			m.RunDuration.WithLabelValues(string(e.Source)).Observe(e.Duration)
			if e.Outcome != OutcomeSuccess {
				return
			}
			m.RunLines.Observe(float64(e.Lines))
			m.StageDuration.WithLabelValues(StageParse).Observe(e.Timings.Parse)
			m.StageDuration.WithLabelValues(StageGroup).Observe(e.Timings.Group)
			m.StageDuration.WithLabelValues(StageEvidence).Observe(e.Timings.Evidence)
			m.StageDuration.WithLabelValues(StageExplain).Observe(e.Timings.Explain)
			m.StageDuration.WithLabelValues(StagePersist).Observe(e.Timings.Persist)
		},
	}
}

// GuardrailHooks returns explain.Hooks that count outcomes and rejections.
func (m *Metrics) GuardrailHooks() explain.Hooks {
	return explain.Hooks{
		OnTransition: func(from, to explain.State) {
			if to == explain.StateRetryFix || to == explain.StateFallback {
				if from == explain.StateValidateSchema || from == explain.StateCheckGrounding {
					m.GuardrailRejects.WithLabelValues(from.String()).Inc()
				}
			}
		},
		OnOutcome: func(o *explain.Outcome) {
			m.GuardrailOutcomes.WithLabelValues(o.Label()).Inc()
		},
	}
}

// ObserveExplainerCall records one external explainer call. Its signature
// matches the claude client's OnCall hook.
func (m *Metrics) ObserveExplainerCall(kind string, inputTokens, outputTokens int64, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ExplainerCalls.WithLabelValues(kind, status).Inc()
	m.ExplainerTokensIn.Add(float64(inputTokens))
	m.ExplainerTokensOut.Add(float64(outputTokens))
	m.ExplainerDuration.WithLabelValues(kind).Observe(duration)
}
