// Package logparse turns raw log text into structured records. Parsing never
// fails: lines that match no known shape degrade to UNKNOWN level, service
// "unknown" and the current instant.
package logparse

import (
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultService is assigned when a line names no service.
const DefaultService = "unknown"

var (
	timestampKeys = []string{"timestamp", "time", "@timestamp", "ts"}
	levelKeys     = []string{"level", "severity", "log_level"}
	serviceKeys   = []string{"service", "svc", "app", "component"}
	messageKeys   = []string{"message", "msg", "event", "error"}
)

// DATE[ T]TIME LEVEL SERVICE MESSAGE...
var textLine = regexp.MustCompile(
	`^(\d{4}[-/]\d{2}[-/]\d{2})[ T](\d{2}:\d{2}:\d{2}(?:\.\d+)?)\s+([A-Za-z]+)\s+([\w\-./]+)\s+(.*)$`,
)

// keyword tokens recognized by the fallback scan
var levelKeywords = map[string]Severity{
	"TRACE":    SeverityTrace,
	"DEBUG":    SeverityDebug,
	"INFO":     SeverityInfo,
	"WARN":     SeverityWarn,
	"WARNING":  SeverityWarn,
	"ERROR":    SeverityError,
	"CRITICAL": SeverityCritical,
	"FATAL":    SeverityFatal,
}

// Parse splits text on line boundaries and parses every non-blank line.
// now is used for lines without a parseable timestamp.
func Parse(text string, now time.Time) []Record {
	now = now.UTC()
	lines := splitLines(text)
	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, ParseLine(line, i+1, now))
	}
	return records
}

// CountLines returns the number of lines Parse considers, blank lines
// included.
func CountLines(text string) int {
	if text == "" {
		return 0
	}
	return len(splitLines(text))
}

// splitLines splits on \r\n, \n and a lone \r.
func splitLines(text string) []string {
	if strings.IndexByte(text, '\r') >= 0 {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
	}
	return strings.Split(text, "\n")
}

// ParseLine parses a single non-blank line. The raw line is kept as given.
func ParseLine(line string, lineNumber int, now time.Time) Record {
	trimmed := strings.TrimSpace(line)
	rec := Record{
		LineNumber: lineNumber,
		Timestamp:  now,
		Service:    DefaultService,
		Level:      SeverityUnknown,
		Message:    trimmed,
		Raw:        line,
	}

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") && gjson.Valid(trimmed) {
		if obj := gjson.Parse(trimmed); obj.IsObject() {
			parseStructured(&rec, obj, line)
			return rec
		}
	}

	if m := textLine.FindStringSubmatch(trimmed); m != nil {
		if ts, ok := ParseTimestamp(m[1] + " " + m[2]); ok {
			rec.Timestamp, rec.TimestampParsed = ts, true
		}
		rec.Level, _ = ParseSeverity(m[3])
		rec.Service = m[4]
		rec.Message = m[5]
		return rec
	}

	rec.Level = scanLevel(trimmed)
	return rec
}

func parseStructured(rec *Record, obj gjson.Result, raw string) {
	fields := obj.Map()

	if v, ok := firstOf(fields, timestampKeys); ok {
		if ts, ok := timestampValue(v); ok {
			rec.Timestamp, rec.TimestampParsed = ts, true
		}
	}
	if v, ok := firstOf(fields, levelKeys); ok {
		rec.Level, _ = ParseSeverity(v.String())
	}
	if v, ok := firstOf(fields, serviceKeys); ok {
		if svc := strings.TrimSpace(v.String()); svc != "" {
			rec.Service = svc
		}
	}
	rec.Message = raw
	if v, ok := firstOf(fields, messageKeys); ok {
		if msg := strings.TrimSpace(v.String()); msg != "" {
			rec.Message = msg
		}
	}
}

// firstOf returns the first key present with a non-empty value.
func firstOf(fields map[string]gjson.Result, keys []string) (gjson.Result, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v.Type == gjson.Null {
			continue
		}
		if v.Type == gjson.String && v.Str == "" {
			continue
		}
		return v, true
	}
	return gjson.Result{}, false
}

func timestampValue(v gjson.Result) (time.Time, bool) {
	if v.Type == gjson.Number {
		n := v.Float()
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), true
		}
		sec := int64(n)
		return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC(), true
	}
	return ParseTimestamp(v.String())
}

func scanLevel(line string) Severity {
	for _, tok := range strings.Fields(line) {
		tok = strings.Trim(tok, "[]():;,|<>")
		if sev, ok := levelKeywords[strings.ToUpper(tok)]; ok {
			return sev
		}
	}
	return SeverityUnknown
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts ISO-8601 (zone optional, UTC assumed) and the
// YYYY-MM-DD / YYYY/MM/DD date-time forms.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 10 && s[4] == '/' && s[7] == '/' {
		s = s[:4] + "-" + s[5:7] + "-" + s[8:]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
