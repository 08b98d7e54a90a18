package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shadow/internal/weights"
)

const scorerModel = `{
  "name": "scorer",
  "inputs": [{"name": "data", "shape": [1, 4]}],
  "layers": [
    {"name": "fc", "type": "Connected", "params": {"num_output": 2}, "bottoms": ["data"], "tops": ["fc"]},
    {"name": "relu", "type": "Activate", "params": {"type": "relu"}, "bottoms": ["fc"], "tops": ["fc"]}
  ]
}`

// scorerWeights are W = [[1,2,3,4],[-1,-1,-1,-1]] and b = [0.5, 0].
var scorerWeights = []float32{1, 2, 3, 4, -1, -1, -1, -1, 0.5, 0}

type fixture struct {
	dir     string
	model   string
	weights string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(envConfigPath, filepath.Join(dir, "config.yaml"))
	f := fixture{
		dir:     dir,
		model:   filepath.Join(dir, "scorer.json"),
		weights: writeFloats(t, dir, "scorer.bin", scorerWeights),
	}
	if err := os.WriteFile(f.model, []byte(scorerModel), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return f
}

func writeFloats(t *testing.T, dir, name string, values []float32) string {
	t.Helper()
	var buf bytes.Buffer
	if err := weights.Encode(&buf, weights.F32, values); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	err := app.Run(context.Background(), append([]string{"shadow"}, args...))
	return stdout.String(), stderr.String(), err
}

func decodeReport(t *testing.T, out string) runReport {
	t.Helper()
	var report runReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	return report
}
