package layers

import (
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Activate applies a nonlinearity. When the top names the bottom blob the
// layer runs in place.
type Activate struct {
	base
	act compute.Activation
}

func newActivate(desc Desc, ws *workspace.Workspace) Layer {
	act, err := compute.ParseActivation(desc.Params.String("type", "relu"))
	if err != nil {
		check.Failf(check.ConfigurationError, "layer %s: %v", desc.Name, err)
	}
	return &Activate{base: newBase(desc, ws, elementwise), act: act}
}

func (l *Activate) Describe() string { return l.act.String() }

func (l *Activate) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	return l.sameShapes(bottoms)
}

func (l *Activate) Reshape() {
	if !l.needsReshape() {
		return
	}
	if !l.inPlace() {
		l.top(0).Reshape(l.OutputShapes(l.BottomShapes())[0]...)
	}
	l.reshaped()
}

func (l *Activate) Forward() {
	l.ready()
	out := l.top(0)
	if !l.inPlace() {
		out.CopyFrom(l.bottom(0))
	}
	out.Device().ActivateArray(out.Count(), l.act, out.Buffer())
}

func (l *Activate) Release() { l.release() }
