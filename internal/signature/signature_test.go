package signature

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", Empty},
		{"blank", " \n\t ", Empty},
		{"uuid", "user 550e8400-e29b-41d4-a716-446655440000 not found", "user <uuid> not found"},
		{"ip and port", "Connection refused to 10.0.0.5:5432", "connection refused to <ip>:<num>"},
		{"hex", "segfault at 0xDEADbeef", "segfault at <hex>"},
		{"duration", "request took 350ms, retry in 20 MS", "request took <duration>, retry in <duration>"},
		{"numbers", "retry 3 of 5", "retry <num> of <num>"},
		{"embedded digits kept", "worker-7 db2 failed", "worker-<num> db2 failed"},
		{"newlines and spaces", "line one\nline   two\r\nthree", "line one line two three"},
		{"lowercased", "Disk FULL", "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_VariableTokensCollapse(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"job 123e4567-e89b-12d3-a456-426614174000 failed", "job 9f1c2a34-0b1d-4e2f-8a3b-1c2d3e4f5a6b failed"},
		{"peer 192.168.1.10 reset", "peer 10.0.0.1 reset"},
		{"bad pointer 0x1f", "bad pointer 0xffee00"},
		{"queue size 17", "queue size 4096"},
		{"slow: 12 ms", "slow: 9000ms"},
	}
	for _, p := range pairs {
		if a, b := Normalize(p[0]), Normalize(p[1]); a != b {
			t.Errorf("Normalize(%q) = %q, Normalize(%q) = %q, want equal", p[0], a, p[1], b)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"Connection refused to 10.0.0.5:5432 after 30ms",
		"user 550e8400-e29b-41d4-a716-446655440000 at 0xabc",
		strings.Repeat("a", 398) + " 12ab",
		strings.Repeat("x 1 ", 300),
		strings.Repeat("é", 500),
		"empty_message",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("not idempotent for %q:\n once  = %q\n twice = %q", in, once, twice)
		}
	}
}

func TestNormalize_Truncates(t *testing.T) {
	t.Parallel()

	got := Normalize(strings.Repeat("é", 500))
	if n := utf8.RuneCountInString(got); n != MaxLen+1 {
		t.Errorf("rune count = %d, want %d", n, MaxLen+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("missing ellipsis: %q", got[len(got)-8:])
	}
}

func TestErrorType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"TokenExpiredException: token expired at 12:00", "TokenExpiredException"},
		{"  NullPointerError in handler", "NullPointerError"},
		{"PageFault", "PageFault"},
		{"connection refused by upstream host during handshake phase", "connection refused by upstream host during"},
		{"short msg", "short msg"},
		{"   ", UnknownErrorType},
	}
	for _, tt := range tests {
		if got := ErrorType(tt.in); got != tt.want {
			t.Errorf("ErrorType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
