// Package layers implements the CNN layer types and their lifecycle.
//
// Every layer moves through Constructed → Reshaped → Forward* → Released.
// Construction validates parameters against the bottom shapes already
// registered in the workspace. Reshape sizes the tops and any private
// scratch; it is skipped when the bottom shapes have not changed since the
// last call. Forward runs only in the Reshaped state and only while the
// bottoms still have the shapes Reshape saw. Release frees private buffers
// and may be called any number of times. Top blobs belong to the workspace
// and are never freed by a layer.
package layers

import (
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

// Desc describes one layer of a network.
type Desc struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Params  Params   `json:"params,omitempty"`
	Bottoms []string `json:"bottoms"`
	Tops    []string `json:"tops"`
}

type Layer interface {
	Name() string
	Type() string
	Bottoms() []string
	Tops() []string
	// OutputShapes computes the top shapes for the given bottom shapes
	// without touching any buffer. It fails the same way Reshape would.
	OutputShapes(bottoms []compute.Shape) []compute.Shape
	Reshape()
	Forward()
	Release()
}

// Weighted is a layer with learned parameters. ParamCounts gives the element
// count of each parameter as of the last Reshape, in load order.
type Weighted interface {
	Layer
	ParamCounts() []int
	SetParam(i int, data []float32)
}

// Describer summarizes a layer's parameters for the reshape log line.
type Describer interface {
	Describe() string
}

// Shaped exposes the shapes a layer last reshaped with.
type Shaped interface {
	BottomShapes() []compute.Shape
	TopShapes() []compute.Shape
}

type state int

const (
	constructed state = iota
	reshaped
	released
)

// base carries the bookkeeping every layer shares.
type base struct {
	desc    Desc
	bottoms []*blob.Blob
	tops    []*blob.Blob
	seen    []compute.Shape
	state   state
}

// arity bounds the bottom count; max < 0 means unbounded. inPlace allows a
// top to name one of the bottoms.
type arity struct {
	min, max, tops int
	inPlace        bool
}

var (
	unary       = arity{min: 1, max: 1, tops: 1}
	elementwise = arity{min: 1, max: 1, tops: 1, inPlace: true}
)

func newBase(desc Desc, ws *workspace.Workspace, a arity) base {
	check.Config(desc.Name != "", "%s layer without a name", desc.Type)
	nb := len(desc.Bottoms)
	check.Config(nb >= a.min && (a.max < 0 || nb <= a.max),
		"layer %s (%s): %d bottoms, want %s", desc.Name, desc.Type, nb, a.bottomsText())
	check.Config(len(desc.Tops) == a.tops,
		"layer %s (%s): %d tops, want %d", desc.Name, desc.Type, len(desc.Tops), a.tops)

	if !a.inPlace {
		for _, top := range desc.Tops {
			check.Config(!slices.Contains(desc.Bottoms, top), "layer %s (%s) cannot run in place on %s", desc.Name, desc.Type, top)
		}
	}

	l := base{desc: desc}
	for _, name := range desc.Bottoms {
		b := ws.Blob(name)
		check.Config(b.NumAxes() > 0, "layer %s: bottom %s has no shape yet", desc.Name, name)
		l.bottoms = append(l.bottoms, b)
	}
	for _, name := range desc.Tops {
		l.tops = append(l.tops, ws.CreateBlob(name))
	}
	return l
}

func (a arity) bottomsText() string {
	switch {
	case a.max < 0:
		return "at least " + strconv.Itoa(a.min)
	case a.min == a.max:
		return strconv.Itoa(a.min)
	default:
		return strconv.Itoa(a.min) + ".." + strconv.Itoa(a.max)
	}
}

func (l *base) Name() string      { return l.desc.Name }
func (l *base) Type() string      { return l.desc.Type }
func (l *base) Bottoms() []string { return l.desc.Bottoms }
func (l *base) Tops() []string    { return l.desc.Tops }

func (l *base) bottom(i int) *blob.Blob { return l.bottoms[i] }
func (l *base) top(i int) *blob.Blob    { return l.tops[i] }

// inPlace reports whether top 0 is the same blob as bottom 0.
func (l *base) inPlace() bool {
	return len(l.tops) > 0 && len(l.bottoms) > 0 && l.tops[0] == l.bottoms[0]
}

// needsReshape is false when the bottoms still have the shapes seen at the
// last Reshape.
func (l *base) needsReshape() bool {
	if l.state == released {
		check.Failf(check.ConfigurationError, "layer %s: reshape after release", l.desc.Name)
	}
	if l.state == constructed {
		return true
	}
	for i, b := range l.bottoms {
		if !b.Shape().Equal(l.seen[i]) {
			return true
		}
	}
	return false
}

// shapesIn checks that bottoms matches the declared bottom count.
func (l *base) shapesIn(bottoms []compute.Shape) {
	if len(bottoms) != len(l.desc.Bottoms) {
		check.Failf(check.ShapeMismatch, "layer %s: %d bottom shapes, want %d", l.desc.Name, len(bottoms), len(l.desc.Bottoms))
	}
}

// sameShapes is OutputShapes for layers whose top mirrors bottom 0.
func (l *base) sameShapes(bottoms []compute.Shape) []compute.Shape {
	l.shapesIn(bottoms)
	return []compute.Shape{bottoms[0].Clone()}
}

// reshaped records the bottom shapes and enters the Reshaped state.
func (l *base) reshaped() {
	l.seen = l.seen[:0]
	for _, b := range l.bottoms {
		l.seen = append(l.seen, b.Shape())
	}
	l.state = reshaped
}

// ready guards Forward.
func (l *base) ready() {
	if l.state != reshaped {
		check.Failf(check.ShapeMismatch, "layer %s: forward without reshape", l.desc.Name)
	}
	for i, b := range l.bottoms {
		if s := b.Shape(); !s.Equal(l.seen[i]) {
			check.Failf(check.ShapeMismatch, "layer %s: bottom %s is %v, reshaped for %v", l.desc.Name, b.Name(), s, l.seen[i])
		}
	}
}

// release drops blob references. It reports false if the layer was already
// released, so callers can skip freeing private blobs twice.
func (l *base) release() bool {
	if l.state == released {
		return false
	}
	l.bottoms, l.tops, l.seen = nil, nil, nil
	l.state = released
	return true
}

func (l *base) BottomShapes() []compute.Shape {
	out := make([]compute.Shape, len(l.bottoms))
	for i, b := range l.bottoms {
		out[i] = b.Shape()
	}
	return out
}

func (l *base) TopShapes() []compute.Shape {
	out := make([]compute.Shape, len(l.tops))
	for i, t := range l.tops {
		out[i] = t.Shape()
	}
	return out
}

// releaseBlobs frees layer-private blobs.
func releaseBlobs(blobs ...interface{ Release() }) {
	for _, b := range blobs {
		b.Release()
	}
}

// outSize computes a spatial output extent, failing if the window does not
// fit.
func outSize(layer string, in, kernel, pad, stride int) int {
	if in+2*pad < kernel {
		check.Failf(check.ShapeMismatch, "layer %s: kernel %d with pad %d does not fit input extent %d", layer, kernel, pad, in)
	}
	return compute.ConvOutSize(in, kernel, pad, stride)
}

func joinShapes(shapes []compute.Shape) string {
	parts := make([]string, len(shapes))
	for i, s := range shapes {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

// Summary is the reshape log line: "name: (in) -> params -> (out)".
func Summary(l Layer) string {
	var in, out string
	if s, ok := l.(Shaped); ok {
		in, out = joinShapes(s.BottomShapes()), joinShapes(s.TopShapes())
	}
	params := l.Type()
	if d, ok := l.(Describer); ok {
		params = d.Describe()
	}
	return l.Name() + ": " + in + " -> " + params + " -> " + out
}
