package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
)

// Audit messages recorded in Validation.Errors.
const (
	ErrNotAvailable = "LLM not available"
	ErrFellBack     = "Fell back to deterministic explanation after validation failures"
)

// DefaultTimeout bounds each external call.
const DefaultTimeout = 30 * time.Second

// State is a guardrail state machine state.
type State int

const (
	StateCallExternal State = iota
	StateValidateSchema
	StateCheckGrounding
	StateRetryFix
	StateFallback
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCallExternal:
		return "call_external"
	case StateValidateSchema:
		return "validate_schema"
	case StateCheckGrounding:
		return "check_grounding"
	case StateRetryFix:
		return "retry_fix"
	case StateFallback:
		return "fallback"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome labels for metrics.
const (
	OutcomeLLM           = "llm"
	OutcomeLLMAfterRetry = "llm_after_retry"
	OutcomeFallback      = "fallback"
)

// Outcome is the terminal result of one guardrail run.
type Outcome struct {
	Explanation *Explanation
	Validation  Validation

	// Calls counts external calls made, repair included.
	Calls int

	// Path lists the states visited in order.
	Path []State
}

// Label classifies the outcome for metrics.
func (o *Outcome) Label() string {
	switch {
	case !o.Validation.UsedLLM:
		return OutcomeFallback
	case o.Calls > 1:
		return OutcomeLLMAfterRetry
	default:
		return OutcomeLLM
	}
}

// Hooks are optional callbacks fired by the guardrail.
type Hooks struct {
	OnTransition func(from, to State)
	OnOutcome    func(o *Outcome)
}

// Option configures a Guardrail.
type Option func(*Guardrail)

// WithTimeout bounds each external call.
func WithTimeout(d time.Duration) Option {
	return func(g *Guardrail) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithDenylist replaces the unsafe phrase list.
func WithDenylist(phrases []string) Option {
	return func(g *Guardrail) { g.denylist = phrases }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(g *Guardrail) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithHooks installs metric hooks.
func WithHooks(h Hooks) Option {
	return func(g *Guardrail) { g.hooks = h }
}

// Guardrail drives an optional Explainer through validation, grounding, one
// repair retry and deterministic fallback.
type Guardrail struct {
	explainer Explainer
	timeout   time.Duration
	denylist  []string
	logger    log.Logger
	hooks     Hooks
}

// NewGuardrail creates a guardrail. A nil explainer always falls back.
func NewGuardrail(explainer Explainer, opts ...Option) *Guardrail {
	g := &Guardrail{
		explainer: explainer,
		timeout:   DefaultTimeout,
		denylist:  DefaultDenylist,
		logger:    log.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Explain runs the state machine for one incident. It always returns an
// explanation.
func (g *Guardrail) Explain(ctx context.Context, b *evidence.Bundle, sig string) *Outcome {
	r := &guardrailRun{g: g, bundle: b, sig: sig}

	state := StateCallExternal
	for state != StateDone {
		r.path = append(r.path, state)
		next := r.step(ctx, state)
		if g.hooks.OnTransition != nil {
			g.hooks.OnTransition(state, next)
		}
		state = next
	}

	out := &Outcome{
		Explanation: r.exp,
		Validation:  Validation{UsedLLM: r.usedLLM, Errors: r.errs},
		Calls:       r.calls,
		Path:        r.path,
	}
	if out.Validation.Errors == nil {
		out.Validation.Errors = []string{}
	}

	if g.hooks.OnOutcome != nil {
		g.hooks.OnOutcome(out)
	}
	return out
}

type guardrailRun struct {
	g      *Guardrail
	bundle *evidence.Bundle
	sig    string

	raw      json.RawMessage
	exp      *Explanation
	passErrs []string
	errs     []string

	calls    int
	retried  bool
	rejected bool
	usedLLM  bool
	path     []State
}

func (r *guardrailRun) step(ctx context.Context, s State) State {
	L := r.g.logger

	switch s {
	case StateCallExternal:
		if r.g.explainer == nil {
			r.errs = append(r.errs, ErrNotAvailable)
			return StateFallback
		}
		raw, err := r.call(ctx, func(ctx context.Context) (json.RawMessage, error) {
			return r.g.explainer.Explain(ctx, r.bundle, r.sig)
		})
		if err != nil {
			L.Warn(ctx, "explainer call failed", "err", err)
			r.errs = append(r.errs, fmt.Sprintf("%s: %v", ErrNotAvailable, err))
			return StateFallback
		}
		if len(raw) == 0 {
			r.errs = append(r.errs, ErrNotAvailable)
			return StateFallback
		}
		r.raw = raw
		return StateValidateSchema

	case StateValidateSchema:
		exp, errs := ValidateSchema(r.raw, r.bundle)
		if len(errs) > 0 {
			return r.reject(ctx, "schema", errs)
		}
		r.exp = exp
		return StateCheckGrounding

	case StateCheckGrounding:
		if errs := CheckGrounding(r.exp, r.bundle, r.g.denylist); len(errs) > 0 {
			r.exp = nil
			return r.reject(ctx, "grounding", errs)
		}
		r.usedLLM = true
		return StateDone

	case StateRetryFix:
		r.retried = true
		invalid := string(r.raw)
		errText := strings.Join(r.passErrs, "\n")
		raw, err := r.call(ctx, func(ctx context.Context) (json.RawMessage, error) {
			return r.g.explainer.Repair(ctx, invalid, errText)
		})
		if err != nil {
			L.Warn(ctx, "explainer repair failed", "err", err)
			r.errs = append(r.errs, fmt.Sprintf("Repair attempt failed: %v", err))
			return StateFallback
		}
		if len(raw) == 0 {
			return StateFallback
		}
		r.raw = raw
		return StateValidateSchema

	case StateFallback:
		r.exp = Fallback(r.bundle, r.sig)
		r.usedLLM = false
		if r.rejected {
			r.errs = append(r.errs, ErrFellBack)
		}
		return StateDone
	}

	return StateDone
}

// reject records a failed check and picks the next state.
func (r *guardrailRun) reject(ctx context.Context, check string, errs []string) State {
	r.rejected = true
	r.passErrs = errs
	r.errs = append(r.errs, errs...)
	r.g.logger.Warn(ctx, "explanation rejected",
		"check", check,
		"retried", r.retried,
		"errors", len(errs),
		"first_error", errs[0],
	)
	if r.retried {
		return StateFallback
	}
	return StateRetryFix
}

func (r *guardrailRun) call(ctx context.Context, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	r.calls++
	callCtx, cancel := context.WithTimeout(ctx, r.g.timeout)
	defer cancel()
	return fn(callCtx)
}
