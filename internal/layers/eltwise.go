package layers

import (
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Eltwise folds its bottoms pairwise with prod, sum or max. Sum may weight
// each bottom with a coefficient.
type Eltwise struct {
	base
	op    compute.EltwiseOp
	coeff []float32
}

func newEltwise(desc Desc, ws *workspace.Workspace) Layer {
	op, err := compute.ParseEltwiseOp(desc.Params.String("operation", "sum"))
	if err != nil {
		check.Failf(check.ConfigurationError, "layer %s: %v", desc.Name, err)
	}
	l := &Eltwise{
		base: newBase(desc, ws, arity{min: 2, max: -1, tops: 1, inPlace: true}),
		op:   op,
	}
	for _, name := range desc.Bottoms[min(2, len(desc.Bottoms)):] {
		check.Config(name != desc.Tops[0], "layer %s: top %s may only alias one of the first two bottoms", desc.Name, name)
	}
	coeff := desc.Params.Floats("coeff")
	if coeff != nil {
		check.Config(op == compute.EltwiseSum, "layer %s: coeff is only valid for sum", desc.Name)
		check.Config(len(coeff) == len(desc.Bottoms), "layer %s: %d coefficients for %d bottoms", desc.Name, len(coeff), len(desc.Bottoms))
	} else {
		coeff = make([]float32, len(desc.Bottoms))
		for i := range coeff {
			coeff[i] = 1
		}
	}
	l.coeff = coeff
	return l
}

func (l *Eltwise) Describe() string { return l.op.String() }

func (l *Eltwise) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	first := bottoms[0]
	for i, s := range bottoms[1:] {
		if !s.Equal(first) {
			check.Failf(check.ShapeMismatch, "layer %s: bottom %d is %v, bottom 0 is %v", l.Name(), i+1, s, first)
		}
	}
	return []compute.Shape{first.Clone()}
}

func (l *Eltwise) Reshape() {
	if !l.needsReshape() {
		return
	}
	l.top(0).Reshape(l.OutputShapes(l.BottomShapes())[0]...)
	l.reshaped()
}

func (l *Eltwise) Forward() {
	l.ready()
	out := l.top(0)
	dev := out.Device()
	n := out.Count()
	dev.Eltwise(n, l.op, l.bottom(0).Buffer(), l.coeff[0], l.bottom(1).Buffer(), l.coeff[1], out.Buffer())
	for i := 2; i < len(l.bottoms); i++ {
		dev.Eltwise(n, l.op, out.Buffer(), 1, l.bottom(i).Buffer(), l.coeff[i], out.Buffer())
	}
}

func (l *Eltwise) Release() { l.release() }
