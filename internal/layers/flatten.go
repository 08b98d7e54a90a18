package layers

import (
	"fmt"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Flatten collapses axes [axis, end_axis] into one. Negative axes count
// from the end.
type Flatten struct {
	base
	axis, endAxis int
}

func newFlatten(desc Desc, ws *workspace.Workspace) Layer {
	l := &Flatten{
		base:    newBase(desc, ws, unary),
		axis:    desc.Params.Int("axis", 1),
		endAxis: desc.Params.Int("end_axis", -1),
	}
	l.bounds(l.bottom(0).NumAxes())
	return l
}

// bounds resolves the axis range against n axes.
func (l *Flatten) bounds(n int) (int, int) {
	start, end := l.axis, l.endAxis
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	check.Config(start >= 0 && start < n && end >= start && end < n,
		"layer %s: axes [%d,%d] invalid for %d axes", l.Name(), l.axis, l.endAxis, n)
	return start, end
}

func (l *Flatten) Describe() string { return fmt.Sprintf("axis_%d_%d", l.axis, l.endAxis) }

func (l *Flatten) Reshape() {
	if !l.needsReshape() {
		return
	}
	l.top(0).Reshape(l.OutputShapes(l.BottomShapes())[0]...)
	l.reshaped()
}

func (l *Flatten) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	in := bottoms[0]
	start, end := l.bounds(len(in))
	out := make(compute.Shape, 0, len(in)-(end-start))
	out = append(out, in[:start]...)
	out = append(out, in.Count(start, end+1))
	out = append(out, in[end+1:]...)
	return []compute.Shape{out}
}

func (l *Flatten) Forward() {
	l.ready()
	l.top(0).CopyFrom(l.bottom(0))
}

func (l *Flatten) Release() { l.release() }
