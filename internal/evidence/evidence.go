// Package evidence selects a bounded, representative sample of a group's
// records and computes exact group statistics.
package evidence

import (
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/grouping"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
)

const (
	// DefaultMaxSamples bounds sample lines per bundle.
	DefaultMaxSamples = 8

	// MinSamples is the smallest budget New honors: the first and last
	// record are always sampled.
	MinSamples = 2

	// MaxTopMessages bounds the distinct messages kept for display.
	MaxTopMessages = 5
)

// SampleLine is one record shown to explainers. LineNumber is the identifier
// explanations cite.
type SampleLine struct {
	LineNumber int               `json:"line_number"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Level      logparse.Severity `json:"level"`
	Message    string            `json:"message"`
	Raw        string            `json:"raw_line"`
}

// Stats are computed over the whole group, not only the sample.
type Stats struct {
	TotalCount      int      `json:"total_count"`
	ErrorCount      int      `json:"error_count"`
	WarnCount       int      `json:"warn_count"`
	Services        []string `json:"services"`
	TimeSpanSeconds *float64 `json:"time_span_seconds,omitempty"`
}

// Bundle is the evidence for one incident. It is not modified after Build.
type Bundle struct {
	SampleLines []SampleLine        `json:"sample_lines"`
	TopMessages []string            `json:"top_messages"`
	TimeWindow  grouping.TimeWindow `json:"time_window"`
	Services    []string            `json:"services"`
	Stats       Stats               `json:"stats"`
}

// LineNumbers returns the set of sampled line numbers.
func (b *Bundle) LineNumbers() map[int]struct{} {
	set := make(map[int]struct{}, len(b.SampleLines))
	for _, s := range b.SampleLines {
		set[s.LineNumber] = struct{}{}
	}
	return set
}

// SortedLineNumbers returns sampled line numbers ascending.
func (b *Bundle) SortedLineNumbers() []int {
	out := make([]int, 0, len(b.SampleLines))
	for n := range b.LineNumbers() {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// RawText joins the raw sampled lines with newlines.
func (b *Bundle) RawText() string {
	raws := make([]string, len(b.SampleLines))
	for i, s := range b.SampleLines {
		raws[i] = s.Raw
	}
	return strings.Join(raws, "\n")
}

// Builder builds bundles with a fixed sample budget.
type Builder struct {
	maxSamples int
}

// New returns a Builder. maxSamples below MinSamples uses DefaultMaxSamples.
func New(maxSamples int) *Builder {
	if maxSamples < MinSamples {
		maxSamples = DefaultMaxSamples
	}
	return &Builder{maxSamples: maxSamples}
}

// MaxSamples returns the sample budget.
func (b *Builder) MaxSamples() int {
	return b.maxSamples
}

// Build assembles the bundle for g.
func (b *Builder) Build(g *grouping.Group) *Bundle {
	bundle := &Bundle{
		TimeWindow: g.Window,
		Services:   append([]string(nil), g.Services...),
	}

	for _, idx := range SampleIndices(len(g.Records), b.maxSamples) {
		rec := g.Records[idx]
		bundle.SampleLines = append(bundle.SampleLines, SampleLine{
			LineNumber: rec.LineNumber,
			Timestamp:  rec.Timestamp,
			Service:    rec.Service,
			Level:      rec.Level,
			Message:    rec.Message,
			Raw:        rec.Raw,
		})
	}

	seen := make(map[string]struct{})
	for _, rec := range g.Records {
		if len(bundle.TopMessages) >= MaxTopMessages {
			break
		}
		if _, ok := seen[rec.Message]; ok {
			continue
		}
		seen[rec.Message] = struct{}{}
		bundle.TopMessages = append(bundle.TopMessages, rec.Message)
	}

	stats := Stats{
		TotalCount: g.Count(),
		Services:   append([]string(nil), g.Services...),
	}
	for _, rec := range g.Records {
		switch {
		case rec.Level.IsError():
			stats.ErrorCount++
		case rec.Level == logparse.SeverityWarn:
			stats.WarnCount++
		}
	}
	if span, ok := g.SpanSeconds(); ok {
		stats.TimeSpanSeconds = &span
	}
	bundle.Stats = stats

	return bundle
}

// SampleIndices picks up to max indices out of total. The first and last
// index are always included; the rest are spread at even steps. The result
// is ascending and free of duplicates.
func SampleIndices(total, max int) []int {
	if total <= 0 || max <= 0 {
		return nil
	}
	if total <= max {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if max == 1 {
		return []int{0}
	}

	picked := map[int]struct{}{0: {}, total - 1: {}}
	remaining := max - 2
	step := float64(total) / float64(remaining+1)
	for i := 1; i <= remaining; i++ {
		picked[int(float64(i)*step)] = struct{}{}
	}

	out := make([]int, 0, len(picked))
	for idx := range picked {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
