package main

import (
	"strings"
	"testing"

	"github.com/samcharles93/shadow/internal/version"
)

func TestInspectCommand(t *testing.T) {
	f := newFixture(t)

	out, logs, err := runApp(t, "inspect", "--model", f.model, "--backend", "host", "--batch", "3", "--log-level", "error")
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, logs)
	}
	for _, want := range []string{
		"Network: scorer (host)",
		"Input:   data (3,4)",
		"fc     Connected",
		"data(3,4)",
		"fc(3,2)",
		"Outputs:    fc",
		"Parameters: 10 (40 B as f32)",
		"Workspace:  2 blobs",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestBackendsCommand(t *testing.T) {
	out, _, err := runApp(t, "backends")
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	if !strings.Contains(out, "host     available") || !strings.Contains(out, "auto -> ") {
		t.Fatalf("unexpected backends output:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runApp(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "version:    "+version.Resolve().Version) {
		t.Fatalf("unexpected version output:\n%s", out)
	}

	out, _, err = runApp(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	if !strings.Contains(out, `"go_version"`) {
		t.Fatalf("expected JSON version output, got:\n%s", out)
	}
}
