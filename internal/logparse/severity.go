package logparse

import (
	"fmt"
	"strings"
)

// Severity is the closed set of log levels a record can carry.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityTrace
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCritical
	SeverityFatal
)

var severityNames = [...]string{
	SeverityUnknown:  "UNKNOWN",
	SeverityTrace:    "TRACE",
	SeverityDebug:    "DEBUG",
	SeverityInfo:     "INFO",
	SeverityWarn:     "WARN",
	SeverityError:    "ERROR",
	SeverityCritical: "CRITICAL",
	SeverityFatal:    "FATAL",
}

// Severities lists every severity in ascending enum order.
func Severities() []Severity {
	return []Severity{
		SeverityUnknown, SeverityTrace, SeverityDebug, SeverityInfo,
		SeverityWarn, SeverityError, SeverityCritical, SeverityFatal,
	}
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return severityNames[SeverityUnknown]
	}
	return severityNames[s]
}

// ParseSeverity maps a level keyword to a Severity, case-insensitively.
// WARNING is accepted as an alias of WARN. The boolean reports whether the
// keyword was recognized; unrecognized keywords return SeverityUnknown.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return SeverityTrace, true
	case "DEBUG":
		return SeverityDebug, true
	case "INFO":
		return SeverityInfo, true
	case "WARN", "WARNING":
		return SeverityWarn, true
	case "ERROR":
		return SeverityError, true
	case "CRITICAL":
		return SeverityCritical, true
	case "FATAL":
		return SeverityFatal, true
	case "UNKNOWN":
		return SeverityUnknown, true
	}
	return SeverityUnknown, false
}

// IsError reports whether s counts towards an incident's error count.
func (s Severity) IsError() bool {
	return s == SeverityError || s == SeverityCritical || s == SeverityFatal
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	*s = v
	return nil
}

// SeverityWeights assigns each severity a weight in [0,1]. The table is
// shared by grouping (max-severity selection) and scoring.
type SeverityWeights map[Severity]float64

// DefaultSeverityWeights returns the stock weight table.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{
		SeverityFatal:    1.0,
		SeverityCritical: 1.0,
		SeverityError:    0.9,
		SeverityWarn:     0.5,
		SeverityInfo:     0.2,
		SeverityDebug:    0.1,
		SeverityTrace:    0.1,
		SeverityUnknown:  0.2,
	}
}

// Weight returns the weight for s, falling back to the UNKNOWN weight for
// severities missing from the table.
func (w SeverityWeights) Weight(s Severity) float64 {
	if v, ok := w[s]; ok {
		return v
	}
	return w[SeverityUnknown]
}

// Max returns the higher of a and b by weight. Ties break on enum order so
// the choice never depends on input order.
func (w SeverityWeights) Max(a, b Severity) Severity {
	wa, wb := w.Weight(a), w.Weight(b)
	switch {
	case wb > wa:
		return b
	case wa > wb:
		return a
	case b > a:
		return b
	default:
		return a
	}
}

// Validate checks that every weight lies in [0,1].
func (w SeverityWeights) Validate() error {
	for s, v := range w {
		if v < 0 || v > 1 {
			return fmt.Errorf("severity weight for %s out of range [0,1]: %v", s, v)
		}
	}
	return nil
}
