package layers

import (
	"fmt"

	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Convolution lowers each sample with Im2Col and multiplies the filter
// matrix [num_output, C*k*k] by the resulting columns. The bias is added by
// a second rank-1 Gemm against a row of ones.
type Convolution struct {
	base
	numOutput, kernel, stride, pad int
	biasTerm                       bool

	filters        *blob.Blob
	biases         *blob.Blob
	biasMultiplier *blob.Blob
	colImage       *blob.Blob

	kernelDim  int
	outSpatial int
}

func newConvolution(desc Desc, ws *workspace.Workspace) Layer {
	p := desc.Params
	l := &Convolution{
		base:      newBase(desc, ws, unary),
		numOutput: p.RequireInt("num_output"),
		kernel:    p.RequireInt("kernel_size"),
		stride:    p.Int("stride", 1),
		pad:       p.Int("pad", 0),
		biasTerm:  p.Bool("bias_term", true),
	}
	check.Config(l.numOutput > 0, "layer %s: num_output must be positive, got %d", desc.Name, l.numOutput)
	check.Config(l.kernel > 0, "layer %s: kernel_size must be positive, got %d", desc.Name, l.kernel)
	check.Config(l.stride > 0, "layer %s: stride must be positive, got %d", desc.Name, l.stride)
	check.Config(l.pad >= 0, "layer %s: pad must not be negative, got %d", desc.Name, l.pad)
	check.Config(l.bottom(0).NumAxes() == 4, "layer %s: bottom must be NCHW, got %v", desc.Name, l.bottom(0).Shape())

	l.filters = blob.New(desc.Name + "/filters")
	l.biases = blob.New(desc.Name + "/biases")
	l.biasMultiplier = blob.New(desc.Name + "/bias_multiplier")
	l.colImage = blob.New(desc.Name + "/col_image")
	return l
}

func (l *Convolution) Describe() string {
	return fmt.Sprintf("%d_%dx%d_s%d_p%d", l.numOutput, l.kernel, l.kernel, l.stride, l.pad)
}

func (l *Convolution) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	in := bottoms[0]
	check.Config(len(in) == 4, "layer %s: bottom must be NCHW, got %v", l.Name(), in)
	outH := outSize(l.Name(), in[2], l.kernel, l.pad, l.stride)
	outW := outSize(l.Name(), in[3], l.kernel, l.pad, l.stride)
	return []compute.Shape{{in[0], l.numOutput, outH, outW}}
}

func (l *Convolution) Reshape() {
	if !l.needsReshape() {
		return
	}
	out := l.OutputShapes(l.BottomShapes())[0]
	l.top(0).Reshape(out...)

	l.outSpatial = out[2] * out[3]
	l.kernelDim = l.bottom(0).Dim(1) * l.kernel * l.kernel
	l.filters.Reshape(l.numOutput, l.kernelDim)
	l.colImage.Reshape(l.kernelDim, l.outSpatial)
	if l.biasTerm {
		l.biases.Reshape(l.numOutput)
		l.biasMultiplier.Reshape(l.outSpatial)
		l.biasMultiplier.Device().SetArray(l.outSpatial, 1, l.biasMultiplier.Buffer())
	}
	l.reshaped()
}

func (l *Convolution) Forward() {
	l.ready()
	in, out := l.bottom(0), l.top(0)
	dev := out.Device()
	inShape, outShape := in.Shape(), out.Shape()
	inNum, outNum := in.CountFrom(1), out.CountFrom(1)
	for b := 0; b < in.Num(); b++ {
		dev.Im2Col(in.Buffer(), inShape, b*inNum, l.kernel, l.stride, l.pad, outShape, l.colImage.Buffer())
		dev.Gemm(false, false, l.numOutput, l.outSpatial, l.kernelDim,
			1, l.filters.Buffer(), 0, l.colImage.Buffer(), 0,
			0, out.Buffer(), b*outNum)
		if l.biasTerm {
			dev.Gemm(false, false, l.numOutput, l.outSpatial, 1,
				1, l.biases.Buffer(), 0, l.biasMultiplier.Buffer(), 0,
				1, out.Buffer(), b*outNum)
		}
	}
}

func (l *Convolution) ParamCounts() []int {
	if l.biasTerm {
		return []int{l.filters.Count(), l.biases.Count()}
	}
	return []int{l.filters.Count()}
}

func (l *Convolution) SetParam(i int, data []float32) {
	switch {
	case i == 0:
		l.SetFilters(data)
	case i == 1 && l.biasTerm:
		l.SetBiases(data)
	default:
		check.Failf(check.ConfigurationError, "layer %s: no parameter %d", l.Name(), i)
	}
}

// SetFilters loads the [num_output, C*k*k] filter matrix.
func (l *Convolution) SetFilters(data []float32) { l.filters.SetData(data) }

func (l *Convolution) SetBiases(data []float32) {
	check.Config(l.biasTerm, "layer %s: bias_term is false", l.Name())
	l.biases.SetData(data)
}

func (l *Convolution) Release() {
	if l.release() {
		releaseBlobs(l.filters, l.biases, l.biasMultiplier, l.colImage)
	}
}
