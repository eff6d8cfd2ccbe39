package evidence

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/grouping"
	"github.com/linnemanlabs/signaltrace/internal/logparse"
)

func TestSampleIndices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total, max int
		want       []int
	}{
		{0, 8, nil},
		{3, 8, []int{0, 1, 2}},
		{8, 8, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{9, 8, []int{0, 1, 2, 3, 5, 6, 7, 8}},
		{100, 8, []int{0, 14, 28, 42, 57, 71, 85, 99}},
		{10, 2, []int{0, 9}},
		{10, 3, []int{0, 5, 9}},
		{5, 1, []int{0}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.max, tt.total), func(t *testing.T) {
			t.Parallel()
			got := SampleIndices(tt.total, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SampleIndices(%d, %d) = %v, want %v", tt.total, tt.max, got, tt.want)
			}
		})
	}
}

func TestSampleIndices_Properties(t *testing.T) {
	t.Parallel()

	for total := 1; total < 60; total++ {
		for max := 2; max < 12; max++ {
			got := SampleIndices(total, max)
			if len(got) > max {
				t.Fatalf("(%d,%d): %d indices exceed max", total, max, len(got))
			}
			if got[0] != 0 || got[len(got)-1] != total-1 {
				t.Fatalf("(%d,%d): endpoints missing: %v", total, max, got)
			}
			for i := 1; i < len(got); i++ {
				if got[i] <= got[i-1] {
					t.Fatalf("(%d,%d): not strictly ascending: %v", total, max, got)
				}
			}
		}
	}
}

func buildGroup(t *testing.T, text string) *grouping.Group {
	t.Helper()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	groups := grouping.New(nil).Group(logparse.Parse(text, now))
	if len(groups) == 0 {
		t.Fatal("no groups")
	}
	return groups[0]
}

func TestBuild(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("2024-01-01 00:00:%02d ERROR api request %d failed", i, i))
	}
	g := buildGroup(t, strings.Join(lines, "\n"))

	b := New(8).Build(g)
	if len(b.SampleLines) != 8 {
		t.Fatalf("len(SampleLines) = %d, want 8", len(b.SampleLines))
	}
	if b.SampleLines[0].LineNumber != 1 || b.SampleLines[7].LineNumber != 20 {
		t.Errorf("endpoints = %d..%d, want 1..20", b.SampleLines[0].LineNumber, b.SampleLines[7].LineNumber)
	}
	if len(b.TopMessages) != MaxTopMessages {
		t.Errorf("len(TopMessages) = %d, want %d", len(b.TopMessages), MaxTopMessages)
	}
	if b.TopMessages[0] != "request 0 failed" {
		t.Errorf("TopMessages[0] = %q", b.TopMessages[0])
	}
	if b.Stats.TotalCount != 20 || b.Stats.ErrorCount != 20 || b.Stats.WarnCount != 0 {
		t.Errorf("Stats = %+v", b.Stats)
	}
	if b.Stats.TimeSpanSeconds == nil || *b.Stats.TimeSpanSeconds != 19 {
		t.Errorf("TimeSpanSeconds = %v, want 19", b.Stats.TimeSpanSeconds)
	}
	if _, ok := b.LineNumbers()[20]; !ok {
		t.Error("LineNumbers missing 20")
	}
	if got := b.SortedLineNumbers(); len(got) != 8 || got[0] != 1 {
		t.Errorf("SortedLineNumbers = %v", got)
	}
}

func TestBuild_CountsOverWholeGroup(t *testing.T) {
	t.Parallel()

	recs := make([]logparse.Record, 0, 30)
	for i := 0; i < 30; i++ {
		lvl := logparse.SeverityError
		if i%3 == 0 {
			lvl = logparse.SeverityFatal
		}
		recs = append(recs, logparse.Record{
			LineNumber: i + 1, Service: "db", Level: lvl, Message: "same",
			Timestamp: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC), TimestampParsed: true,
		})
	}
	g := &grouping.Group{Records: recs, Services: []string{"db"}}

	b := New(4).Build(g)
	if len(b.SampleLines) != 4 {
		t.Errorf("len(SampleLines) = %d, want 4", len(b.SampleLines))
	}
	if b.Stats.ErrorCount != 30 {
		t.Errorf("ErrorCount = %d, want 30", b.Stats.ErrorCount)
	}
	if len(b.TopMessages) != 1 {
		t.Errorf("TopMessages = %v, want one distinct message", b.TopMessages)
	}
}

func TestBuild_SpanAbsentWhenUnparsed(t *testing.T) {
	t.Parallel()

	g := buildGroup(t, "WARN disk almost full\nWARN disk almost full")
	b := New(0).Build(g)
	if b.Stats.TimeSpanSeconds != nil {
		t.Errorf("TimeSpanSeconds = %v, want nil", *b.Stats.TimeSpanSeconds)
	}
	if b.Stats.WarnCount != 2 {
		t.Errorf("WarnCount = %d, want 2", b.Stats.WarnCount)
	}
	if New(0).MaxSamples() != DefaultMaxSamples {
		t.Errorf("MaxSamples = %d, want %d", New(0).MaxSamples(), DefaultMaxSamples)
	}
	if got := b.RawText(); got != "WARN disk almost full\nWARN disk almost full" {
		t.Errorf("RawText = %q", got)
	}
}
