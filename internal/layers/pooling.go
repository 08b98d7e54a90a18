package layers

import (
	"fmt"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Pooling reduces k×k windows with max or average. Output extents use the
// floor rule of compute.ConvOutSize.
type Pooling struct {
	base
	mode                compute.PoolMode
	kernel, stride, pad int
}

func newPooling(desc Desc, ws *workspace.Workspace) Layer {
	p := desc.Params
	mode, err := compute.ParsePoolMode(p.String("pool", "max"))
	if err != nil {
		check.Failf(check.ConfigurationError, "layer %s: %v", desc.Name, err)
	}
	l := &Pooling{
		base:   newBase(desc, ws, unary),
		mode:   mode,
		kernel: p.RequireInt("kernel_size"),
		stride: p.Int("stride", 1),
		pad:    p.Int("pad", 0),
	}
	check.Config(l.kernel > 0, "layer %s: kernel_size must be positive, got %d", desc.Name, l.kernel)
	check.Config(l.stride > 0, "layer %s: stride must be positive, got %d", desc.Name, l.stride)
	check.Config(l.pad >= 0 && l.pad < l.kernel, "layer %s: pad must be in [0, kernel_size), got %d", desc.Name, l.pad)
	check.Config(l.bottom(0).NumAxes() == 4, "layer %s: bottom must be NCHW, got %v", desc.Name, l.bottom(0).Shape())
	return l
}

func (l *Pooling) Describe() string {
	return fmt.Sprintf("%s_%dx%d_s%d_p%d", l.mode, l.kernel, l.kernel, l.stride, l.pad)
}

func (l *Pooling) Reshape() {
	if !l.needsReshape() {
		return
	}
	l.top(0).Reshape(l.OutputShapes(l.BottomShapes())[0]...)
	l.reshaped()
}

func (l *Pooling) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	in := bottoms[0]
	check.Config(len(in) == 4, "layer %s: bottom must be NCHW, got %v", l.Name(), in)
	outH := outSize(l.Name(), in[2], l.kernel, l.pad, l.stride)
	outW := outSize(l.Name(), in[3], l.kernel, l.pad, l.stride)
	return []compute.Shape{{in[0], in[1], outH, outW}}
}

func (l *Pooling) Forward() {
	l.ready()
	in, out := l.bottom(0), l.top(0)
	out.Device().Pooling(in.Buffer(), in.Shape(), l.kernel, l.stride, l.pad, l.mode, out.Shape(), out.Buffer())
}

func (l *Pooling) Release() { l.release() }
