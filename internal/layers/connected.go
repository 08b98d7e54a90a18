package layers

import (
	"fmt"

	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Connected is a fully connected layer over the flattened sample:
// top[N, num_output] = bottom[N, K] · Wᵀ + bias. Weights are stored
// [num_output, K], or [K, num_output] when transpose is set.
type Connected struct {
	base
	numOutput int
	biasTerm  bool
	transpose bool

	weights        *blob.Blob
	biases         *blob.Blob
	biasMultiplier *blob.Blob
	inner          int
}

func newConnected(desc Desc, ws *workspace.Workspace) Layer {
	p := desc.Params
	l := &Connected{
		base:      newBase(desc, ws, unary),
		numOutput: p.RequireInt("num_output"),
		biasTerm:  p.Bool("bias_term", true),
		transpose: p.Bool("transpose", false),
	}
	check.Config(l.numOutput > 0, "layer %s: num_output must be positive, got %d", desc.Name, l.numOutput)
	l.weights = blob.New(desc.Name + "/weights")
	l.biases = blob.New(desc.Name + "/biases")
	l.biasMultiplier = blob.New(desc.Name + "/bias_multiplier")
	return l
}

func (l *Connected) Describe() string {
	if l.transpose {
		return fmt.Sprintf("%d_t", l.numOutput)
	}
	return fmt.Sprintf("%d", l.numOutput)
}

func (l *Connected) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	return []compute.Shape{{bottoms[0][0], l.numOutput}}
}

func (l *Connected) Reshape() {
	if !l.needsReshape() {
		return
	}
	in := l.bottom(0)
	batch := in.Num()
	l.inner = in.CountFrom(1)
	l.top(0).Reshape(l.OutputShapes(l.BottomShapes())[0]...)
	if l.transpose {
		l.weights.Reshape(l.inner, l.numOutput)
	} else {
		l.weights.Reshape(l.numOutput, l.inner)
	}
	if l.biasTerm {
		l.biases.Reshape(l.numOutput)
		l.biasMultiplier.Reshape(batch)
		l.biasMultiplier.Device().SetArray(batch, 1, l.biasMultiplier.Buffer())
	}
	l.reshaped()
}

func (l *Connected) Forward() {
	l.ready()
	in, out := l.bottom(0), l.top(0)
	dev := out.Device()
	batch := in.Num()
	dev.Gemm(false, !l.transpose, batch, l.numOutput, l.inner,
		1, in.Buffer(), 0, l.weights.Buffer(), 0, 0, out.Buffer(), 0)
	if l.biasTerm {
		dev.Gemm(false, false, batch, l.numOutput, 1,
			1, l.biasMultiplier.Buffer(), 0, l.biases.Buffer(), 0, 1, out.Buffer(), 0)
	}
}

func (l *Connected) ParamCounts() []int {
	if l.biasTerm {
		return []int{l.weights.Count(), l.biases.Count()}
	}
	return []int{l.weights.Count()}
}

func (l *Connected) SetParam(i int, data []float32) {
	switch {
	case i == 0:
		l.SetWeights(data)
	case i == 1 && l.biasTerm:
		l.SetBiases(data)
	default:
		check.Failf(check.ConfigurationError, "layer %s: no parameter %d", l.Name(), i)
	}
}

func (l *Connected) SetWeights(data []float32) { l.weights.SetData(data) }

func (l *Connected) SetBiases(data []float32) {
	check.Config(l.biasTerm, "layer %s: bias_term is false", l.Name())
	l.biases.SetData(data)
}

func (l *Connected) Release() {
	if l.release() {
		releaseBlobs(l.weights, l.biases, l.biasMultiplier)
	}
}
