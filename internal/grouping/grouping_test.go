package grouping

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/signaltrace/internal/logparse"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGroup_RepeatedJSONLines(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"level":"ERROR","service":"auth","message":"Connection refused to 10.0.0.5:5432","timestamp":"2024-01-01T00:00:0%dZ"}`, i))
	}
	recs := logparse.Parse(strings.Join(lines, "\n"), testNow)

	groups := New(nil).Group(recs)
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.Count() != 5 {
		t.Errorf("Count = %d, want 5", g.Count())
	}
	if g.Severity != logparse.SeverityError {
		t.Errorf("Severity = %v, want ERROR", g.Severity)
	}
	if g.Signature != "connection refused to <ip>:<num>" {
		t.Errorf("Signature = %q", g.Signature)
	}
	if len(g.Services) != 1 || g.Services[0] != "auth" {
		t.Errorf("Services = %v, want [auth]", g.Services)
	}
	span, ok := g.SpanSeconds()
	if !ok || span != 4 {
		t.Errorf("SpanSeconds = %v,%v, want 4,true", span, ok)
	}
}

func TestGroup_CountsSumToParsedLines(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"2024-01-01 00:00:01 ERROR api request 1 failed",
		"2024-01-01 00:00:02 ERROR api request 2 failed",
		"2024-01-01 00:00:03 WARN api request 3 slow",
		"",
		"2024-01-01 00:00:04 ERROR db request 4 failed",
		"garbage line",
		`{"level":"INFO","message":"ok"}`,
	}, "\n")
	recs := logparse.Parse(text, testNow)

	groups := New(nil).Group(recs)
	total := 0
	for _, g := range groups {
		total += g.Count()
	}
	if total != len(recs) {
		t.Errorf("sum(count) = %d, want %d", total, len(recs))
	}
	if len(groups) != 5 {
		t.Errorf("len(groups) = %d, want 5", len(groups))
	}
}

func TestGroup_RankOrder(t *testing.T) {
	t.Parallel()

	at := func(sec int) time.Time { return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC) }
	rec := func(svc, msg string, sec int) logparse.Record {
		return logparse.Record{Service: svc, Level: logparse.SeverityError, Message: msg, Timestamp: at(sec), TimestampParsed: true}
	}

	recs := []logparse.Record{
		rec("a", "small early", 1),
		rec("b", "big", 2),
		rec("b", "big", 3),
		rec("c", "small late", 9),
		rec("d", "tie first", 5),
		rec("e", "tie second", 5),
	}

	groups := New(nil).Group(recs)
	var got []string
	for _, g := range groups {
		got = append(got, g.Key.Service)
	}
	want := []string{"b", "c", "d", "e", "a"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("rank order = %v, want %v", got, want)
	}
}

func TestGroup_SortsRecordsByTimestamp(t *testing.T) {
	t.Parallel()

	recs := []logparse.Record{
		{LineNumber: 1, Service: "s", Level: logparse.SeverityWarn, Message: "x", Timestamp: time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC), TimestampParsed: true},
		{LineNumber: 2, Service: "s", Level: logparse.SeverityWarn, Message: "x", Timestamp: time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC), TimestampParsed: true},
		{LineNumber: 3, Service: "s", Level: logparse.SeverityWarn, Message: "x", Timestamp: time.Date(2024, 1, 1, 0, 0, 20, 0, time.UTC), TimestampParsed: true},
	}
	g := New(nil).Group(recs)[0]

	for i, want := range []int{2, 3, 1} {
		if g.Records[i].LineNumber != want {
			t.Errorf("Records[%d].LineNumber = %d, want %d", i, g.Records[i].LineNumber, want)
		}
	}
	if !g.Window.FirstSeen.Equal(recs[1].Timestamp) || !g.Window.LastSeen.Equal(recs[0].Timestamp) {
		t.Errorf("Window = %+v", g.Window)
	}
}

func TestGroup_SpanAbsentWhenEndpointUnparsed(t *testing.T) {
	t.Parallel()

	recs := []logparse.Record{
		{Service: "s", Message: "m", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), TimestampParsed: true},
		{Service: "s", Message: "m", Timestamp: testNow},
	}
	g := New(nil).Group(recs)[0]
	if _, ok := g.SpanSeconds(); ok {
		t.Error("SpanSeconds ok = true, want false")
	}
}
