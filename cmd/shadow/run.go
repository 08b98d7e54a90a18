package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/chewxy/math32"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/network"
	"github.com/samcharles93/shadow/internal/weights"
)

type scored struct {
	Index int     `json:"index"`
	Value float32 `json:"value"`
}

type outputSummary struct {
	Name  string     `json:"name"`
	Shape []int      `json:"shape"`
	Min   float32    `json:"min"`
	Max   float32    `json:"max"`
	Mean  float32    `json:"mean"`
	Top   [][]scored `json:"top,omitempty"`
}

type runReport struct {
	Network string          `json:"network"`
	ID      string          `json:"id"`
	Backend string          `json:"backend"`
	Elapsed string          `json:"elapsed"`
	Outputs []outputSummary `json:"outputs"`
}

func runCmd() *cli.Command {
	var (
		modelPath   string
		weightsPath string
		dtype       string
		inputPath   string
		batch       int
		topK        int
		outputs     []string
	)

	flags := networkFlags(&modelPath, &batch)
	flags = append(flags, weightsFlags(&weightsPath, &dtype)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "raw little-endian float32 file holding every input in declaration order (default: deterministic fill)",
			Destination: &inputPath,
		},
		&cli.IntFlag{
			Name:        "top",
			Aliases:     []string{"k"},
			Usage:       "report the K largest values of each sample",
			Value:       5,
			Destination: &topK,
		},
		&cli.StringSliceFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "blob to report (repeatable, default: network outputs)",
			Destination: &outputs,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run one forward pass and print a summary of the outputs",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(configPath())
			if err != nil {
				return err
			}
			applyNetworkConfig(cmd, cfg, &batch, &dtype)
			log, err := newLogger(cmd.Root().ErrWriter)
			if err != nil {
				return err
			}

			s, err := openSession(log, sessionOptions{model: modelPath, weights: weightsPath, dtype: dtype, batch: batch})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer s.close()

			var (
				report runReport
				runErr error
			)
			err = check.Catch(func() {
				report, runErr = forward(s, inputPath, outputs, topK)
			})
			if err == nil {
				err = runErr
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return writeJSON(cmd.Root().Writer, report)
		},
	}
}

// forward fills the inputs, runs the network and summarizes the requested
// blobs. It raises engine faults as fatal panics.
func forward(s *session, inputPath string, outputs []string, topK int) (runReport, error) {
	net := s.net
	if err := fillInputs(net, inputPath); err != nil {
		return runReport{}, err
	}
	if len(outputs) == 0 {
		outputs = net.Outputs()
	}

	start := time.Now()
	net.Forward()
	report := runReport{
		Network: net.Name(),
		ID:      net.ID(),
		Backend: s.backend,
	}
	for _, name := range outputs {
		report.Outputs = append(report.Outputs, summarize(name, net.Shape(name), net.Output(name), topK))
	}
	report.Elapsed = time.Since(start).String()
	return report, nil
}

func fillInputs(net *network.Network, path string) error {
	if path == "" {
		for _, in := range net.Inputs() {
			net.SetInput(in.Name, fill(count(in.Shape)))
		}
		return nil
	}

	f, err := weights.Open(path, weights.F32)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	for _, in := range net.Inputs() {
		data, err := f.Next(count(in.Shape))
		if err != nil {
			return fmt.Errorf("input %s %v: %w", in.Name, in.Shape, err)
		}
		net.SetInput(in.Name, data)
	}
	if left := f.Remaining(); left != 0 {
		return fmt.Errorf("input file %s: %d values left after the last input", path, left)
	}
	return nil
}

// fill is a deterministic input pattern in [-1, 1].
func fill(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*7)%13-6) / 6
	}
	return out
}

func count(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func summarize(name string, shape []int, data []float32, topK int) outputSummary {
	sum := outputSummary{Name: name, Shape: shape}
	if len(data) == 0 {
		return sum
	}
	sum.Min, sum.Max = math32.Inf(1), math32.Inf(-1)
	var total float32
	for _, v := range data {
		sum.Min = math32.Min(sum.Min, v)
		sum.Max = math32.Max(sum.Max, v)
		total += v
	}
	sum.Mean = total / float32(len(data))

	if topK <= 0 || len(shape) == 0 {
		return sum
	}
	inner := len(data) / shape[0]
	for n := range shape[0] {
		sum.Top = append(sum.Top, top(data[n*inner:(n+1)*inner], topK))
	}
	return sum
}

// top returns the k largest values, highest first. Ties keep index order.
func top(values []float32, k int) []scored {
	all := make([]scored, len(values))
	for i, v := range values {
		all[i] = scored{Index: i, Value: v}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		default:
			return 0
		}
	})
	return all[:min(k, len(all))]
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
