package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func authLog() string {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"level":"ERROR","service":"auth","message":"Connection refused to 10.0.0.%d:5432","timestamp":"2024-01-01T00:00:0%dZ"}`, i, i))
	}
	return strings.Join(lines, "\n")
}

func TestRun_Table(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "auth.log", authLog())
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{path}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v (stderr: %s)", err, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{"5 lines, 1 incidents", "RANK", "PRIORITY", "auth"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_JSON(t *testing.T) {
	t.Parallel()

	a := writeLog(t, "a.log", authLog())
	b := writeLog(t, "b.log", "\n\n")
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-json", a, b}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}

	var reports []fileReport
	if err := json.Unmarshal(stdout.Bytes(), &reports); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2", len(reports))
	}
	if reports[0].NumLines != 5 || len(reports[0].Incidents) != 1 {
		t.Errorf("a.log = %d lines %d incidents, want 5/1", reports[0].NumLines, len(reports[0].Incidents))
	}
	inc := reports[0].Incidents[0]
	if inc.Count != 5 || inc.Explanation == nil {
		t.Errorf("incident = %+v, want count 5 with an explanation", inc)
	}
	if len(reports[1].Incidents) != 0 {
		t.Errorf("blank file produced %d incidents", len(reports[1].Incidents))
	}
}

func TestRun_FailOn(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "auth.log", authLog())
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-fail-on", "P3", path}, &stdout, &stderr)
	if !errors.Is(err, errThreshold) {
		t.Fatalf("err = %v, want errThreshold", err)
	}
	if stdout.Len() == 0 {
		t.Error("report not written before threshold error")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"no files", nil},
		{"missing file", []string{filepath.Join(t.TempDir(), "nope.log")}},
		{"bad max samples", []string{"-max-samples", "0", "x.log"}},
		{"max samples below minimum", []string{"-max-samples", "1", "x.log"}},
		{"bad workers", []string{"-workers", "-1", "x.log"}},
		{"bad fail-on", []string{"-fail-on", "P9", "x.log"}},
		{"bad scoring config", []string{"-scoring-config", filepath.Join(t.TempDir(), "missing.yaml"), "x.log"}},
		{"unknown flag", []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			if err := run(context.Background(), tt.args, &stdout, &stderr); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-h"}, &stdout, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "usage: signaltrace") {
		t.Errorf("usage not printed: %q", stderr.String())
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "auth.log", authLog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	if err := run(ctx, []string{path}, &stdout, &stderr); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
