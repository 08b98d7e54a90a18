package layers

import (
	"fmt"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Concat joins its bottoms along one axis. All other dims must agree.
type Concat struct {
	base
	axis       int
	numConcats int
	concatSize int
}

func newConcat(desc Desc, ws *workspace.Workspace) Layer {
	l := &Concat{
		base: newBase(desc, ws, arity{min: 1, max: -1, tops: 1}),
		axis: desc.Params.Int("axis", 1),
	}
	axes := l.bottom(0).NumAxes()
	check.Config(l.axis >= 0 && l.axis < axes, "layer %s: axis %d out of range [0,%d)", desc.Name, l.axis, axes)
	return l
}

func (l *Concat) Describe() string { return fmt.Sprintf("axis_%d", l.axis) }

func (l *Concat) Reshape() {
	if !l.needsReshape() {
		return
	}
	shapes := l.BottomShapes()
	l.top(0).Reshape(l.OutputShapes(shapes)[0]...)
	first := shapes[0]
	l.numConcats = first.Count(0, l.axis)
	l.concatSize = first.CountFrom(l.axis + 1)
	l.reshaped()
}

func (l *Concat) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	first := bottoms[0]
	if l.axis >= len(first) {
		check.Failf(check.ShapeMismatch, "layer %s: axis %d out of range for %v", l.Name(), l.axis, first)
	}
	shape := first.Clone()
	for i, s := range bottoms[1:] {
		if len(s) != len(first) {
			check.Failf(check.ShapeMismatch, "layer %s: bottom %d is %v, bottom 0 is %v", l.Name(), i+1, s, first)
		}
		for axis := range s {
			if axis != l.axis && s[axis] != first[axis] {
				check.Failf(check.ShapeMismatch, "layer %s: bottom %d is %v, bottom 0 is %v", l.Name(), i+1, s, first)
			}
		}
		shape[l.axis] += s[l.axis]
	}
	return []compute.Shape{shape}
}

func (l *Concat) Forward() {
	l.ready()
	out := l.top(0)
	dev := out.Device()
	topAxis := out.Dim(l.axis)
	offset := 0
	for _, b := range l.bottoms {
		dim := b.Dim(l.axis)
		dev.Concat(b.Buffer(), b.Count(), l.numConcats, l.concatSize, topAxis, dim, offset, out.Buffer())
		offset += dim
	}
}

func (l *Concat) Release() { l.release() }
