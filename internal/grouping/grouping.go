// Package grouping buckets parsed records into incident groups keyed by
// service, severity and normalized signature, and ranks them by size.
package grouping

import (
	"sort"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/signature"
)

// Key identifies a group within one batch.
type Key struct {
	Service   string
	Level     logparse.Severity
	Signature string
}

// String renders the key for logging and ID derivation.
func (k Key) String() string {
	return k.Service + "|" + k.Level.String() + "|" + k.Signature
}

// TimeWindow spans the first and last record of a group.
type TimeWindow struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Group is one bucket of records sharing a Key. Records are sorted by
// timestamp ascending. A Group is not modified after Group returns it.
type Group struct {
	Key       Key
	Signature string
	ErrorType string
	Severity  logparse.Severity
	Records   []logparse.Record
	Window    TimeWindow
	Services  []string
}

// Count is the number of records in the group.
func (g *Group) Count() int {
	return len(g.Records)
}

// SpanSeconds returns last minus first timestamp in seconds. ok is false
// when either endpoint fell back to the parse-time default.
func (g *Group) SpanSeconds() (float64, bool) {
	if len(g.Records) == 0 {
		return 0, false
	}
	first, last := g.Records[0], g.Records[len(g.Records)-1]
	if !first.TimestampParsed || !last.TimestampParsed {
		return 0, false
	}
	return last.Timestamp.Sub(first.Timestamp).Seconds(), true
}

// Engine groups and ranks records.
type Engine struct {
	weights logparse.SeverityWeights
}

// New creates a grouping engine. weights decides the group severity; nil
// uses the default table.
func New(weights logparse.SeverityWeights) *Engine {
	if weights == nil {
		weights = logparse.DefaultSeverityWeights()
	}
	return &Engine{weights: weights}
}

// Group buckets records and returns groups in rank order: count descending,
// then latest timestamp descending, then first appearance in the input.
func (e *Engine) Group(records []logparse.Record) []*Group {
	byKey := make(map[Key]*Group)
	var order []*Group

	for _, rec := range records {
		sig := signature.Normalize(rec.Message)
		k := Key{Service: rec.Service, Level: rec.Level, Signature: sig}
		g, ok := byKey[k]
		if !ok {
			g = &Group{
				Key:       k,
				Signature: sig,
				ErrorType: signature.ErrorType(rec.Message),
				Severity:  rec.Level,
			}
			byKey[k] = g
			order = append(order, g)
		}
		g.Records = append(g.Records, rec)
		g.Severity = e.weights.Max(g.Severity, rec.Level)
	}

	for _, g := range order {
		finalize(g)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Count() != b.Count() {
			return a.Count() > b.Count()
		}
		return a.Window.LastSeen.After(b.Window.LastSeen)
	})
	return order
}

func finalize(g *Group) {
	sort.SliceStable(g.Records, func(i, j int) bool {
		return g.Records[i].Timestamp.Before(g.Records[j].Timestamp)
	})
	g.Window = TimeWindow{
		FirstSeen: g.Records[0].Timestamp,
		LastSeen:  g.Records[len(g.Records)-1].Timestamp,
	}

	seen := make(map[string]struct{})
	for _, rec := range g.Records {
		if _, ok := seen[rec.Service]; ok {
			continue
		}
		seen[rec.Service] = struct{}{}
		g.Services = append(g.Services, rec.Service)
	}
	sort.Strings(g.Services)
}
