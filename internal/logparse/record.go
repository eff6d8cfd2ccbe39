package logparse

import "time"

// Record is one parsed log line. Every input line, blank lines excepted,
// yields exactly one Record.
type Record struct {
	// LineNumber is the 1-based position of the line in the input text,
	// blank lines included.
	LineNumber int `json:"line_number"`

	// Timestamp is UTC. When the line carried no parseable timestamp it is
	// the parse-time "now" and TimestampParsed is false.
	Timestamp       time.Time `json:"timestamp"`
	TimestampParsed bool      `json:"timestamp_parsed"`

	Service string   `json:"service"`
	Level   Severity `json:"level"`
	Message string   `json:"message"`
	Raw     string   `json:"raw_line"`
}
