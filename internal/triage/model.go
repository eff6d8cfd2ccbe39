package triage

import (
	"time"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/explain"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
)

// Source identifies where a run's log text came from.
type Source string

const (
	// SourceUpload is a file posted to the API or read by the CLI
	SourceUpload Source = "upload"

	// SourceLoki is a window pulled from Loki
	SourceLoki Source = "loki"
)

// Run is the header of one analysis run.
type Run struct {
	ID           string    `json:"run_id"`
	Filename     string    `json:"filename"`
	Source       Source    `json:"source"`
	Encoding     string    `json:"encoding,omitempty"`
	NumLines     int       `json:"num_lines"`
	NumIncidents int       `json:"num_incidents"`
	CreatedAt    time.Time `json:"created_at"`
	Duration     float64   `json:"duration_seconds"`
}

// Incident is one ranked, scored, explained group.
type Incident struct {
	ID        string            `json:"incident_id"`
	RunID     string            `json:"run_id"`
	Rank      int               `json:"rank"`
	Signature string            `json:"signature"`
	ErrorType string            `json:"error_type"`
	Score     float64           `json:"score"`
	Priority  scoring.Priority  `json:"priority"`
	Severity  logparse.Severity `json:"severity"`
	Title     string            `json:"title"`
	Count     int               `json:"count"`
	Services  []string          `json:"services"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`

	Stats       evidence.Stats       `json:"stats"`
	Evidence    *evidence.Bundle     `json:"evidence"`
	Explanation *explain.Explanation `json:"explanation"`
	Validation  explain.Validation   `json:"validation"`
}

// IncidentSummary is the listing view of an Incident.
type IncidentSummary struct {
	ID        string            `json:"incident_id"`
	Rank      int               `json:"rank"`
	Score     float64           `json:"score"`
	Priority  scoring.Priority  `json:"priority"`
	Severity  logparse.Severity `json:"severity"`
	Title     string            `json:"title"`
	Count     int               `json:"count"`
	Services  []string          `json:"services"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
}

// Summary returns the listing view.
func (i *Incident) Summary() IncidentSummary {
	return IncidentSummary{
		ID:        i.ID,
		Rank:      i.Rank,
		Score:     i.Score,
		Priority:  i.Priority,
		Severity:  i.Severity,
		Title:     i.Title,
		Count:     i.Count,
		Services:  i.Services,
		FirstSeen: i.FirstSeen,
		LastSeen:  i.LastSeen,
	}
}

// RunDetail is a run with its incident summaries in rank order.
type RunDetail struct {
	Run       *Run              `json:"run"`
	Incidents []IncidentSummary `json:"incidents"`
}

func newRunDetail(run *Run, incidents []*Incident) *RunDetail {
	d := &RunDetail{Run: run, Incidents: make([]IncidentSummary, 0, len(incidents))}
	for _, inc := range incidents {
		d.Incidents = append(d.Incidents, inc.Summary())
	}
	return d
}
