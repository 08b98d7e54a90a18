// Package network runs an ordered list of layers over a shared workspace.
package network

import (
	"slices"

	"github.com/google/uuid"

	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/layers"
	"github.com/samcharles93/shadow/internal/logger"
	"github.com/samcharles93/shadow/internal/weights"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Input declares a blob the caller fills before Forward.
type Input struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Config is a complete network description.
type Config struct {
	Name   string        `json:"name"`
	Inputs []Input       `json:"inputs"`
	Layers []layers.Desc `json:"layers"`
}

type Network struct {
	id       string
	name     string
	log      logger.Logger
	ws       *workspace.Workspace
	inputs   []Input
	layers   []layers.Layer
	released bool
}

type Option func(*Network)

func WithLogger(log logger.Logger) Option {
	return func(n *Network) { n.log = log }
}

// Build constructs every layer in order, reshaping each before the next is
// built so constructors see their bottom shapes. The device context must be
// live.
func Build(cfg Config, opts ...Option) *Network {
	n := &Network{
		id:   uuid.NewString(),
		name: cfg.Name,
		log:  logger.Discard(),
		ws:   workspace.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With("network", cfg.Name, "run", n.id)
	defer func() {
		if r := recover(); r != nil {
			for _, l := range n.layers {
				l.Release()
			}
			n.ws.Release()
			n.released = true
			panic(r)
		}
	}()

	check.Config(len(cfg.Inputs) > 0, "network %s has no inputs", cfg.Name)
	for _, in := range cfg.Inputs {
		check.Config(in.Name != "" && len(in.Shape) > 0, "network %s: input %q needs a name and a shape", cfg.Name, in.Name)
		check.Config(!n.ws.Has(in.Name), "network %s: duplicate input %s", cfg.Name, in.Name)
		n.ws.CreateBlob(in.Name, in.Shape...)
		n.inputs = append(n.inputs, Input{Name: in.Name, Shape: slices.Clone(in.Shape)})
	}
	for _, desc := range cfg.Layers {
		l := layers.New(desc, n.ws)
		n.layers = append(n.layers, l)
		l.Reshape()
		n.log.Debug(layers.Summary(l))
	}
	n.log.Info("network built", "layers", len(n.layers), "blobs", len(n.ws.Names()), "bytes", n.ws.Bytes())
	return n
}

func (n *Network) ID() string                      { return n.id }
func (n *Network) Name() string                    { return n.name }
func (n *Network) Layers() []layers.Layer          { return n.layers }
func (n *Network) Workspace() *workspace.Workspace { return n.ws }

// Inputs returns the declared inputs with their current shapes.
func (n *Network) Inputs() []Input {
	n.live()
	out := make([]Input, len(n.inputs))
	for i, in := range n.inputs {
		out[i] = Input{Name: in.Name, Shape: n.ws.Blob(in.Name).Shape()}
	}
	return out
}

// Outputs lists the tops no later layer consumes, in production order.
func (n *Network) Outputs() []string {
	consumed := make(map[string]bool)
	var out []string
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		for _, top := range l.Tops() {
			if !consumed[top] && !slices.Contains(out, top) {
				out = append(out, top)
			}
		}
		for _, b := range l.Bottoms() {
			if !slices.Contains(l.Tops(), b) {
				consumed[b] = true
			}
		}
	}
	slices.Reverse(out)
	return out
}

func (n *Network) input(name string) *blob.Blob {
	for _, in := range n.inputs {
		if in.Name == name {
			return n.ws.Blob(name)
		}
	}
	check.Failf(check.ConfigurationError, "network %s: %s is not an input", n.name, name)
	return nil
}

// CheckShapes replays every layer's shape rules for the given input shapes
// without allocating or reshaping anything. Inputs not named keep their
// current shape. The returned error carries the same kind Reshape would
// fail with.
func (n *Network) CheckShapes(shapes map[string][]int) error {
	return check.Catch(func() { n.inferShapes(shapes) })
}

func (n *Network) inferShapes(shapes map[string][]int) map[string]compute.Shape {
	n.live()
	known := make(map[string]compute.Shape, len(n.inputs)+len(n.layers))
	for _, in := range n.inputs {
		known[in.Name] = n.ws.Blob(in.Name).Shape()
	}
	for name, shape := range shapes {
		n.input(name)
		check.Config(len(shape) > 0, "network %s: input %s needs a shape", n.name, name)
		for _, d := range shape {
			check.Config(d > 0, "network %s: input %s has non-positive dim in %v", n.name, name, shape)
		}
		known[name] = compute.Shape(slices.Clone(shape))
	}
	for _, l := range n.layers {
		bottoms := make([]compute.Shape, len(l.Bottoms()))
		for i, b := range l.Bottoms() {
			bottoms[i] = known[b]
		}
		for i, top := range l.OutputShapes(bottoms) {
			known[l.Tops()[i]] = top
		}
	}
	return known
}

// Reshape resizes the named inputs and reshapes every layer. Layers whose
// bottoms did not change keep their buffers. The new shapes are checked
// against every layer first, so a rejected reshape leaves the network as it
// was.
func (n *Network) Reshape(shapes map[string][]int) {
	n.inferShapes(shapes)
	for name, shape := range shapes {
		n.input(name).Reshape(shape...)
	}
	for _, l := range n.layers {
		l.Reshape()
		n.log.Debug(layers.Summary(l))
	}
}

// SetBatch changes the leading dimension of every input.
func (n *Network) SetBatch(batch int) {
	check.Config(batch > 0, "network %s: batch must be positive, got %d", n.name, batch)
	shapes := make(map[string][]int, len(n.inputs))
	for _, in := range n.Inputs() {
		in.Shape[0] = batch
		shapes[in.Name] = in.Shape
	}
	n.Reshape(shapes)
}

// SetInput uploads data into a declared input. len(data) must equal the
// input's element count.
func (n *Network) SetInput(name string, data []float32) {
	n.live()
	b := n.input(name)
	if len(data) != b.Count() {
		check.Failf(check.ShapeMismatch, "network %s: input %s %v needs %d values, got %d", n.name, name, b.Shape(), b.Count(), len(data))
	}
	b.SetData(data)
}

// Forward runs every layer in declaration order.
func (n *Network) Forward() {
	n.live()
	for _, l := range n.layers {
		l.Forward()
	}
}

// Output downloads a blob by name.
func (n *Network) Output(name string) []float32 {
	n.live()
	return n.ws.Blob(name).Data()
}

func (n *Network) Shape(name string) compute.Shape {
	return n.ws.Blob(name).Shape()
}

// ParamCount is the number of weight values LoadWeights consumes.
func (n *Network) ParamCount() int {
	total := 0
	for _, l := range n.layers {
		if w, ok := l.(layers.Weighted); ok {
			for _, c := range w.ParamCounts() {
				total += c
			}
		}
	}
	return total
}

// LoadWeights feeds every weighted layer from src in declaration order,
// each parameter in the layer's ParamCounts order. A short stream or
// unconsumed trailing values are a WeightSizeMismatch.
func (n *Network) LoadWeights(src weights.Stream) {
	n.live()
	values := n.loadWeights(src, len(n.layers))
	if left := src.Remaining(); left != 0 {
		check.Failf(check.WeightSizeMismatch, "network %s: %d weight values left after the last layer", n.name, left)
	}
	n.log.Info("weights loaded", "values", values)
}

// LoadWeightsUpto feeds weighted layers up to and including the layer named
// last, then stops. Values left in src are not an error, so a truncated
// backbone can be loaded from a full weight file.
func (n *Network) LoadWeightsUpto(src weights.Stream, last string) {
	n.live()
	end := slices.IndexFunc(n.layers, func(l layers.Layer) bool { return l.Name() == last })
	if end < 0 {
		check.Failf(check.ConfigurationError, "network %s: no layer named %s", n.name, last)
	}
	values := n.loadWeights(src, end+1)
	n.log.Info("weights loaded", "values", values, "upto", last, "left", src.Remaining())
}

func (n *Network) loadWeights(src weights.Stream, end int) int {
	values := 0
	for _, l := range n.layers[:end] {
		w, ok := l.(layers.Weighted)
		if !ok {
			continue
		}
		for i, count := range w.ParamCounts() {
			data, err := src.Next(count)
			if err != nil {
				check.Failf(check.WeightSizeMismatch, "layer %s param %d: %v", l.Name(), i, err)
			}
			w.SetParam(i, data)
			values += count
		}
	}
	return values
}

// Release frees every layer and blob. Safe to call more than once.
func (n *Network) Release() {
	if n.released {
		return
	}
	for _, l := range n.layers {
		l.Release()
	}
	n.ws.Release()
	n.released = true
	n.log.Debug("network released")
}

func (n *Network) live() {
	if n.released {
		check.Failf(check.ConfigurationError, "network %s: used after release", n.name)
	}
}
