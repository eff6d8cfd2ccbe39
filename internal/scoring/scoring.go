// Package scoring turns a group's severity and ranking signals into a
// numeric score and a priority band.
package scoring

import (
	"math"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/logparse"
)

// Priority is the urgency band derived from a score.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

// Rank orders priorities, P0 lowest.
func (p Priority) Rank() int {
	switch p {
	case P0:
		return 0
	case P1:
		return 1
	case P2:
		return 2
	default:
		return 3
	}
}

// AtLeast reports whether p is as urgent as or more urgent than other.
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() <= other.Rank()
}

// ParsePriority accepts P0..P3.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case P0, P1, P2, P3:
		return p, true
	}
	return "", false
}

// Signals are the group-derived inputs to a score.
type Signals struct {
	Frequency       int
	RecencyMinutes  float64
	TimeSpanSeconds *float64
	ServiceCount    int
}

// ComputeSignals derives signals for a group observed count times across
// services, last seen at lastSeen. now must be captured once per batch.
func ComputeSignals(count int, services []string, lastSeen time.Time, span *float64, now time.Time) Signals {
	recency := now.Sub(lastSeen).Minutes()
	if recency < 0 {
		recency = 0
	}
	svc := len(services)
	if svc == 0 {
		svc = 1
	}
	return Signals{
		Frequency:       count,
		RecencyMinutes:  recency,
		TimeSpanSeconds: span,
		ServiceCount:    svc,
	}
}

// Scorer scores groups against a validated Config.
type Scorer struct {
	cfg Config
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the tables the scorer was built with.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the weighted score for sev under sig. The frequency
// component is not capped, so very large groups can exceed 1.0 slightly.
func (s *Scorer) Score(sev logparse.Severity, sig Signals) float64 {
	w := s.cfg.Weights

	sevScore := s.cfg.SeverityWeights.Weight(sev)
	freqScore := math.Log1p(math.Max(0, float64(sig.Frequency))) / 5
	recScore := 1 / (1 + math.Max(0, sig.RecencyMinutes)/60)

	score := w.Severity*sevScore + w.Frequency*freqScore + w.Recency*recScore
	if sig.ServiceCount > 1 {
		score *= 1 + s.cfg.ServiceBoost*float64(sig.ServiceCount-1)
	}
	return score
}

// Priority maps a score onto its band. Thresholds are inclusive lower
// bounds.
func (s *Scorer) Priority(score float64) Priority {
	th := s.cfg.Thresholds
	switch {
	case score >= th.P0:
		return P0
	case score >= th.P1:
		return P1
	case score >= th.P2:
		return P2
	default:
		return P3
	}
}

// Round4 rounds a score for storage.
func Round4(score float64) float64 {
	return math.Round(score*1e4) / 1e4
}
