package layers

import (
	"fmt"

	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Data normalizes raw input: top = (bottom - mean_value) * scale.
type Data struct {
	base
	scale, mean float32
}

func newData(desc Desc, ws *workspace.Workspace) Layer {
	return &Data{
		base:  newBase(desc, ws, elementwise),
		scale: desc.Params.Float("scale", 1),
		mean:  desc.Params.Float("mean_value", 0),
	}
}

func (l *Data) Describe() string { return fmt.Sprintf("scale_%g_mean_%g", l.scale, l.mean) }

func (l *Data) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	return l.sameShapes(bottoms)
}

func (l *Data) Reshape() {
	if !l.needsReshape() {
		return
	}
	l.top(0).Reshape(l.OutputShapes(l.BottomShapes())[0]...)
	l.reshaped()
}

func (l *Data) Forward() {
	l.ready()
	in, out := l.bottom(0), l.top(0)
	out.Device().DataTransform(in.Count(), in.Buffer(), l.scale, l.mean, out.Buffer())
}

func (l *Data) Release() { l.release() }
