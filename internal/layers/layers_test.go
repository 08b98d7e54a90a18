package layers

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
	"github.com/samcharles93/shadow/internal/workspace"
)

func nine() []float32 { return []float32{1, 2, 3, 4, 5, 6, 7, 8, 9} }

func TestPoolingWindows(t *testing.T) {
	cases := []struct {
		pool     string
		pad      int
		wantDims []int
		want     []float32
	}{
		{"ave", 0, []int{1, 1, 1, 1}, []float32{3}},
		{"max", 0, []int{1, 1, 1, 1}, []float32{5}},
		{"ave", 1, []int{1, 1, 2, 2}, []float32{1, 2.5, 5.5, 7}},
		{"max", 1, []int{1, 1, 2, 2}, []float32{1, 3, 7, 9}},
	}
	for _, tc := range cases {
		ws := setup(t)
		input(ws, "data", nine(), 1, 1, 3, 3)
		l := build(Desc{Name: "pool", Type: "Pooling",
			Params:  Params{"pool": tc.pool, "kernel_size": 2, "stride": 2, "pad": tc.pad},
			Bottoms: []string{"data"}, Tops: []string{"pool"}}, ws)
		l.Forward()
		top := ws.Blob("pool")
		assert.Equal(t, compute.Shape(tc.wantDims), top.Shape(), "%s pad %d", tc.pool, tc.pad)
		assert.InDeltaSlice(t, tc.want, top.Data(), 1e-6, "%s pad %d", tc.pool, tc.pad)
	}
}

func TestConcatChannels(t *testing.T) {
	ws := setup(t)
	a := seq(2*2*2*2, 1)
	b := seq(2*3*2*2, -2)
	input(ws, "a", a, 2, 2, 2, 2)
	input(ws, "b", b, 2, 3, 2, 2)
	l := build(Desc{Name: "cat", Type: "Concat", Params: Params{"axis": 1},
		Bottoms: []string{"a", "b"}, Tops: []string{"cat"}}, ws)
	l.Forward()

	top := ws.Blob("cat")
	require.Equal(t, compute.Shape{2, 5, 2, 2}, top.Shape())
	got := top.Data()
	for n := 0; n < 2; n++ {
		sample := got[n*20 : (n+1)*20]
		assert.Equal(t, a[n*8:(n+1)*8], sample[:8])
		assert.Equal(t, b[n*12:(n+1)*12], sample[8:])
	}
	assert.Equal(t, "cat: (2,2,2,2) (2,3,2,2) -> axis_1 -> (2,5,2,2)", Summary(l))
}

func TestConcatValidation(t *testing.T) {
	ws := setup(t)
	input(ws, "a", make([]float32, 8), 2, 4)
	input(ws, "b", make([]float32, 6), 3, 2)
	requireKind(t, check.ConfigurationError, func() {
		New(Desc{Name: "cat", Type: "Concat", Params: Params{"axis": 2}, Bottoms: []string{"a"}, Tops: []string{"cat"}}, ws)
	})
	requireKind(t, check.ConfigurationError, func() {
		New(Desc{Name: "cat", Type: "Concat", Params: Params{"axis": -1}, Bottoms: []string{"a"}, Tops: []string{"cat"}}, ws)
	})
	l := New(Desc{Name: "cat", Type: "Concat", Params: Params{"axis": 1}, Bottoms: []string{"a", "b"}, Tops: []string{"cat"}}, ws)
	requireKind(t, check.ShapeMismatch, l.Reshape)
}

func TestEltwiseFold(t *testing.T) {
	a := []float32{1, -2, 3, -4, 5, -6}
	b := []float32{2, 2, -1, -1, 0.5, 3}
	c := []float32{-1, 4, 2, 0, 1, -3}
	cases := map[string]struct {
		params Params
		want   func(i int) float32
	}{
		"sum":       {Params{}, func(i int) float32 { return a[i] + b[i] + c[i] }},
		"sum coeff": {Params{"coeff": []any{1.0, -2.0, 0.5}}, func(i int) float32 { return a[i] - 2*b[i] + 0.5*c[i] }},
		"prod":      {Params{"operation": "prod"}, func(i int) float32 { return a[i] * b[i] * c[i] }},
		"max":       {Params{"operation": "max"}, func(i int) float32 { return max(a[i], b[i], c[i]) }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ws := setup(t)
			input(ws, "a", a, 2, 3)
			input(ws, "b", b, 2, 3)
			input(ws, "c", c, 2, 3)
			l := build(Desc{Name: "elt", Type: "Eltwise", Params: tc.params,
				Bottoms: []string{"a", "b", "c"}, Tops: []string{"elt"}}, ws)
			l.Forward()
			want := make([]float32, len(a))
			for i := range want {
				want[i] = tc.want(i)
			}
			assert.InDeltaSlice(t, want, ws.Blob("elt").Data(), 1e-6)
		})
	}
}

func TestEltwiseValidation(t *testing.T) {
	ws := setup(t)
	input(ws, "a", make([]float32, 4), 4)
	input(ws, "b", make([]float32, 4), 4)
	input(ws, "c", make([]float32, 2), 2)
	for name, desc := range map[string]Desc{
		"one bottom":   {Bottoms: []string{"a"}},
		"coeff count":  {Bottoms: []string{"a", "b"}, Params: Params{"coeff": []any{1.0}}},
		"coeff on max": {Bottoms: []string{"a", "b"}, Params: Params{"operation": "max", "coeff": []any{1.0, 1.0}}},
		"unknown op":   {Bottoms: []string{"a", "b"}, Params: Params{"operation": "div"}},
	} {
		desc.Name, desc.Type, desc.Tops = "elt", "Eltwise", []string{"elt"}
		t.Run(name, func(t *testing.T) {
			requireKind(t, check.ConfigurationError, func() { New(desc, ws) })
		})
	}
	l := New(Desc{Name: "elt", Type: "Eltwise", Bottoms: []string{"a", "c"}, Tops: []string{"elt"}}, ws)
	requireKind(t, check.ShapeMismatch, l.Reshape)
}

func TestActivate(t *testing.T) {
	ws := setup(t)
	x := []float32{-2, -0.5, 0, 0.5, 2}
	input(ws, "x", x, 1, 5)

	leaky := build(Desc{Name: "leaky", Type: "Activate", Params: Params{"type": "leaky"},
		Bottoms: []string{"x"}, Tops: []string{"y"}}, ws)
	leaky.Forward()
	assert.InDeltaSlice(t, []float32{-0.2, -0.05, 0, 0.5, 2}, ws.Blob("y").Data(), 1e-6)
	assert.Equal(t, x, ws.Blob("x").Data(), "copying activation must not touch its bottom")

	relu := build(Desc{Name: "relu", Type: "Activate", Params: Params{"type": "relu"},
		Bottoms: []string{"x"}, Tops: []string{"x"}}, ws)
	relu.Forward()
	assert.Equal(t, []float32{0, 0, 0, 0.5, 2}, ws.Blob("x").Data())

	input(ws, "z", []float32{0}, 1)
	sig := build(Desc{Name: "sig", Type: "Activate", Params: Params{"type": "logistic"},
		Bottoms: []string{"z"}, Tops: []string{"z"}}, ws)
	sig.Forward()
	assert.InDelta(t, 0.5, ws.Blob("z").Data()[0], 1e-6)

	requireKind(t, check.ConfigurationError, func() {
		New(Desc{Name: "bad", Type: "Activate", Params: Params{"type": "gelu"}, Bottoms: []string{"x"}, Tops: []string{"x"}}, ws)
	})
}

func TestData(t *testing.T) {
	ws := setup(t)
	input(ws, "raw", []float32{0, 2, 4, 255}, 1, 1, 2, 2)
	l := build(Desc{Name: "data", Type: "Data", Params: Params{"scale": 0.5, "mean_value": 2},
		Bottoms: []string{"raw"}, Tops: []string{"data"}}, ws)
	l.Forward()
	assert.InDeltaSlice(t, []float32{-1, 0, 1, 126.5}, ws.Blob("data").Data(), 1e-6)
}

func TestPermute(t *testing.T) {
	ws := setup(t)
	in := seq(2*3*4, 1)
	input(ws, "x", in, 2, 3, 4)
	l := build(Desc{Name: "perm", Type: "Permute", Params: Params{"order": []any{2.0, 0.0, 1.0}},
		Bottoms: []string{"x"}, Tops: []string{"y"}}, ws)
	l.Forward()

	top := ws.Blob("y")
	require.Equal(t, compute.Shape{4, 2, 3}, top.Shape())
	got := top.Data()
	for a := 0; a < 4; a++ {
		for b := 0; b < 2; b++ {
			for c := 0; c < 3; c++ {
				assert.Equal(t, in[(b*3+c)*4+a], got[(a*2+b)*3+c])
			}
		}
	}
	l.Release()
	l.Release()

	for _, order := range [][]int{{0, 1}, {0, 0, 1}, {0, 1, 3}} {
		requireKind(t, check.ConfigurationError, func() {
			New(Desc{Name: "p", Type: "Permute", Params: Params{"order": order}, Bottoms: []string{"x"}, Tops: []string{"p"}}, ws)
		})
	}
}

func TestConnected(t *testing.T) {
	for _, transpose := range []bool{false, true} {
		ws := setup(t)
		const batch, inner, outputs = 2, 12, 5
		in := seq(batch*inner, 0.5)
		input(ws, "x", in, batch, 3, 2, 2)
		l := build(Desc{Name: "fc", Type: "Connected",
			Params:  Params{"num_output": outputs, "transpose": transpose},
			Bottoms: []string{"x"}, Tops: []string{"fc"}}, ws).(*Connected)

		w := seq(outputs*inner, 0.25) // [outputs, inner]
		stored := w
		if transpose {
			stored = make([]float32, len(w))
			for o := 0; o < outputs; o++ {
				for k := 0; k < inner; k++ {
					stored[k*outputs+o] = w[o*inner+k]
				}
			}
		}
		bias := seq(outputs, 2)
		require.Equal(t, []int{outputs * inner, outputs}, l.ParamCounts())
		l.SetParam(0, stored)
		l.SetParam(1, bias)
		l.Forward()

		want := make([]float32, batch*outputs)
		for n := 0; n < batch; n++ {
			for o := 0; o < outputs; o++ {
				sum := bias[o]
				for k := 0; k < inner; k++ {
					sum += in[n*inner+k] * w[o*inner+k]
				}
				want[n*outputs+o] = sum
			}
		}
		top := ws.Blob("fc")
		assert.Equal(t, compute.Shape{batch, outputs}, top.Shape())
		assert.InDeltaSlice(t, want, top.Data(), 1e-4, "transpose=%v", transpose)
	}
}

func TestFlatten(t *testing.T) {
	cases := []struct {
		axis, end int
		want      compute.Shape
	}{
		{1, -1, compute.Shape{2, 60}},
		{1, 2, compute.Shape{2, 12, 5}},
		{-2, -1, compute.Shape{2, 3, 20}},
		{0, 3, compute.Shape{120}},
	}
	for _, tc := range cases {
		ws := setup(t)
		in := seq(120, 1)
		input(ws, "x", in, 2, 3, 4, 5)
		l := build(Desc{Name: "flat", Type: "Flatten", Params: Params{"axis": tc.axis, "end_axis": tc.end},
			Bottoms: []string{"x"}, Tops: []string{"flat"}}, ws)
		l.Forward()
		assert.Equal(t, tc.want, ws.Blob("flat").Shape())
		assert.Equal(t, in, ws.Blob("flat").Data())
	}
	ws := setup(t)
	input(ws, "x", make([]float32, 6), 2, 3)
	requireKind(t, check.ConfigurationError, func() {
		New(Desc{Name: "f", Type: "Flatten", Params: Params{"axis": 1, "end_axis": 0}, Bottoms: []string{"x"}, Tops: []string{"f"}}, ws)
	})
	requireKind(t, check.ConfigurationError, func() {
		New(Desc{Name: "f", Type: "Flatten", Bottoms: []string{"x"}, Tops: []string{"x"}}, ws)
	})
}

func TestLifecycle(t *testing.T) {
	ws := setup(t)
	data := input(ws, "data", nine(), 1, 1, 3, 3)
	l := New(Desc{Name: "pool", Type: "Pooling", Params: Params{"kernel_size": 2, "stride": 1},
		Bottoms: []string{"data"}, Tops: []string{"pool"}}, ws)

	requireKind(t, check.ShapeMismatch, l.Forward)

	l.Reshape()
	top := ws.Blob("pool")
	buf := top.Buffer()
	l.Reshape()
	assert.Same(t, buf, top.Buffer())
	l.Forward()
	assert.Equal(t, []float32{5, 6, 8, 9}, top.Data())

	data.Reshape(1, 1, 4, 4)
	requireKind(t, check.ShapeMismatch, l.Forward)
	data.SetData(seq(16, 1))
	l.Reshape()
	assert.Equal(t, compute.Shape{1, 1, 3, 3}, top.Shape())
	l.Forward()

	l.Release()
	l.Release()
	requireKind(t, check.ConfigurationError, l.Reshape)
	requireKind(t, check.ShapeMismatch, l.Forward)
	assert.Equal(t, "pool:  -> max_2x2_s1_p0 -> ", Summary(l))
}

func TestConstructionErrors(t *testing.T) {
	ws := setup(t)
	input(ws, "data", make([]float32, 16), 1, 1, 4, 4)
	for name, desc := range map[string]Desc{
		"unknown type":   {Name: "x", Type: "Softmax", Bottoms: []string{"data"}, Tops: []string{"x"}},
		"missing bottom": {Name: "x", Type: "Pooling", Params: Params{"kernel_size": 2}, Bottoms: []string{"nope"}, Tops: []string{"x"}},
		"two tops":       {Name: "x", Type: "Pooling", Params: Params{"kernel_size": 2}, Bottoms: []string{"data"}, Tops: []string{"x", "y"}},
		"in place pool":  {Name: "x", Type: "Pooling", Params: Params{"kernel_size": 2}, Bottoms: []string{"data"}, Tops: []string{"data"}},
		"no name":        {Type: "Pooling", Params: Params{"kernel_size": 2}, Bottoms: []string{"data"}, Tops: []string{"x"}},
		"bad pool":       {Name: "x", Type: "Pooling", Params: Params{"pool": "min", "kernel_size": 2}, Bottoms: []string{"data"}, Tops: []string{"x"}},
	} {
		t.Run(name, func(t *testing.T) {
			requireKind(t, check.ConfigurationError, func() { New(desc, ws) })
		})
	}
}

type identity struct{ base }

func (l *identity) OutputShapes(bottoms []compute.Shape) []compute.Shape {
	return l.sameShapes(bottoms)
}

func (l *identity) Reshape() {
	if l.needsReshape() {
		l.top(0).ReshapeLike(l.bottom(0))
		l.reshaped()
	}
}
func (l *identity) Forward() { l.ready(); l.top(0).CopyFrom(l.bottom(0)) }
func (l *identity) Release() { l.release() }

func TestRegister(t *testing.T) {
	if !slices.Contains(Types(), "Identity") {
		Register("Identity", func(desc Desc, ws *workspace.Workspace) Layer {
			return &identity{base: newBase(desc, ws, unary)}
		})
	}
	types := Types()
	assert.True(t, slices.IsSorted(types))
	assert.Subset(t, types, []string{"Activate", "Concat", "Connected", "Convolution", "Data", "Eltwise", "Flatten", "Identity", "Permute", "Pooling"})
	requireKind(t, check.ConfigurationError, func() { Register("Convolution", newConvolution) })

	ws := setup(t)
	input(ws, "x", []float32{1, 2, 3}, 3)
	l := build(Desc{Name: "id", Type: "Identity", Bottoms: []string{"x"}, Tops: []string{"y"}}, ws)
	l.Forward()
	assert.Equal(t, []float32{1, 2, 3}, ws.Blob("y").Data())
	assert.Equal(t, "id: (3) -> Identity -> (3)", Summary(l))
}

func TestOutputShapes(t *testing.T) {
	ws := setup(t)
	input(ws, "x", seq(1*3*8*8, 1), 1, 3, 8, 8)
	input(ws, "y", seq(1*2*8*8, 1), 1, 2, 8, 8)
	descs := []Desc{
		{Name: "conv", Type: "Convolution", Params: Params{"num_output": 4, "kernel_size": 3}, Bottoms: []string{"x"}, Tops: []string{"conv"}},
		{Name: "pool", Type: "Pooling", Params: Params{"pool": "max", "kernel_size": 2, "stride": 2}, Bottoms: []string{"x"}, Tops: []string{"pool"}},
		{Name: "cat", Type: "Concat", Bottoms: []string{"x", "y"}, Tops: []string{"cat"}},
		{Name: "sum", Type: "Eltwise", Bottoms: []string{"x", "x"}, Tops: []string{"sum"}},
		{Name: "perm", Type: "Permute", Params: Params{"order": []int{0, 2, 3, 1}}, Bottoms: []string{"x"}, Tops: []string{"perm"}},
		{Name: "flat", Type: "Flatten", Bottoms: []string{"x"}, Tops: []string{"flat"}},
		{Name: "fc", Type: "Connected", Params: Params{"num_output": 5}, Bottoms: []string{"x"}, Tops: []string{"fc"}},
		{Name: "act", Type: "Activate", Params: Params{"type": "tanh"}, Bottoms: []string{"x"}, Tops: []string{"act"}},
	}
	built := make(map[string]Layer)
	for _, d := range descs {
		built[d.Name] = build(d, ws)
	}

	x := compute.Shape{2, 3, 6, 4}
	cases := map[string]struct {
		in   []compute.Shape
		want compute.Shape
	}{
		"conv": {[]compute.Shape{x}, compute.Shape{2, 4, 4, 2}},
		"pool": {[]compute.Shape{x}, compute.Shape{2, 3, 3, 2}},
		"cat":  {[]compute.Shape{x, {2, 2, 6, 4}}, compute.Shape{2, 5, 6, 4}},
		"sum":  {[]compute.Shape{x, x}, x},
		"perm": {[]compute.Shape{x}, compute.Shape{2, 6, 4, 3}},
		"flat": {[]compute.Shape{x}, compute.Shape{2, 72}},
		"fc":   {[]compute.Shape{x}, compute.Shape{2, 5}},
		"act":  {[]compute.Shape{x}, x},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			l := built[name]
			before := ws.Blob(name).Shape()
			assert.Equal(t, []compute.Shape{tc.want}, l.OutputShapes(tc.in))
			assert.Equal(t, before, ws.Blob(name).Shape(), "top must not be reshaped")
		})
	}

	requireKind(t, check.ShapeMismatch, func() { built["conv"].OutputShapes([]compute.Shape{{1, 3, 2, 2}}) })
	requireKind(t, check.ShapeMismatch, func() { built["cat"].OutputShapes([]compute.Shape{x, {2, 2, 5, 4}}) })
	requireKind(t, check.ShapeMismatch, func() { built["sum"].OutputShapes([]compute.Shape{x, {2, 3, 6, 5}}) })
	requireKind(t, check.ShapeMismatch, func() { built["fc"].OutputShapes([]compute.Shape{x, x}) })
	requireKind(t, check.ConfigurationError, func() { built["pool"].OutputShapes([]compute.Shape{{2, 3, 6}}) })
}
