package main

import (
	"strings"
	"testing"
)

func TestRenderStatusLinePlain(t *testing.T) {
	line := renderStatusLine("Daemon", statusWarn, "not running", false)
	if !strings.Contains(line, "Daemon:") || !strings.HasSuffix(line, "[WARN] not running") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("plain line carries escape codes: %q", line)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Shot", "Status", "Result"}, [][]string{{"s1", "completed"}}, nil)
	for _, want := range []string{"s1", "completed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table for no headers")
	}
}
