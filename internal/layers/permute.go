package layers

import (
	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Permute reorders axes: top dim i is bottom dim order[i]. The order and
// both step tables live on the device as int32.
type Permute struct {
	base
	order    []int
	orderBuf *blob.Index
	oldSteps *blob.Index
	newSteps *blob.Index
}

func newPermute(desc Desc, ws *workspace.Workspace) Layer {
	l := &Permute{base: newBase(desc, ws, unary), order: desc.Params.Ints("order")}
	axes := l.bottom(0).NumAxes()
	check.Config(len(l.order) == axes, "layer %s: order %v does not cover %d axes", desc.Name, l.order, axes)
	seen := make([]bool, axes)
	for _, o := range l.order {
		check.Config(o >= 0 && o < axes && !seen[o], "layer %s: order %v is not a permutation", desc.Name, l.order)
		seen[o] = true
	}
	l.orderBuf = blob.NewOf[int32](desc.Name + "/order")
	l.oldSteps = blob.NewOf[int32](desc.Name + "/old_steps")
	l.newSteps = blob.NewOf[int32](desc.Name + "/new_steps")
	return l
}

func (l *Permute) Describe() string { return "order_" + compute.Shape(l.order).String() }

func (l *Permute) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	in := bottoms[0]
	check.Config(len(in) == len(l.order), "layer %s: bottom %v does not match order %v", l.Name(), in, l.order)
	out := make(compute.Shape, len(in))
	for i, o := range l.order {
		out[i] = in[o]
	}
	return []compute.Shape{out}
}

func (l *Permute) Reshape() {
	if !l.needsReshape() {
		return
	}
	in := l.bottom(0).Shape()
	out := l.OutputShapes([]compute.Shape{in})[0]
	l.top(0).Reshape(out...)

	n := len(in)
	for _, b := range []*blob.Index{l.orderBuf, l.oldSteps, l.newSteps} {
		b.Reshape(n)
	}
	l.orderBuf.SetData(compute.Int32s(l.order))
	l.oldSteps.SetData(compute.Int32s(in.Steps()))
	l.newSteps.SetData(compute.Int32s(out.Steps()))
	l.reshaped()
}

func (l *Permute) Forward() {
	l.ready()
	in, out := l.bottom(0), l.top(0)
	out.Device().Permute(in.Buffer(), in.Count(), len(l.order),
		l.orderBuf.Buffer(), l.oldSteps.Buffer(), l.newSteps.Buffer(), out.Buffer())
}

func (l *Permute) Release() {
	if l.release() {
		releaseBlobs(l.orderBuf, l.oldSteps, l.newSteps)
	}
}
