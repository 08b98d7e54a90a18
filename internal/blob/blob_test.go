package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/shadow/internal/backend"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

func setupHost(t *testing.T) {
	t.Helper()
	backend.Release()
	backend.Setup(backend.Host, 0)
	t.Cleanup(backend.Release)
}

func requireKind(t *testing.T, want check.Kind, fn func()) {
	t.Helper()
	err := check.Catch(fn)
	require.Error(t, err)
	kind, ok := check.KindOf(err)
	require.True(t, ok, "not a fatal engine error: %v", err)
	assert.Equal(t, want, kind, err.Error())
}

func TestReshapeGrowOnly(t *testing.T) {
	setupHost(t)
	b := New("x")
	b.Reshape(1, 3, 4, 4)
	first := b.Buffer()
	assert.Equal(t, 48, b.Capacity())

	b.Reshape(1, 3, 2, 2)
	assert.Same(t, first, b.Buffer())
	assert.Equal(t, compute.Shape{1, 3, 2, 2}, b.Shape())
	assert.Equal(t, 12, b.Count())
	assert.Equal(t, 48, b.Capacity())

	b.Reshape(1, 3, 4, 4)
	assert.Same(t, first, b.Buffer(), "regrowing within capacity must keep the buffer")

	b.Reshape(2, 3, 4, 4)
	assert.NotSame(t, first, b.Buffer())
	assert.Equal(t, 96, b.Capacity())
	assert.Equal(t, 96*4, b.Bytes())
}

func TestAccessors(t *testing.T) {
	setupHost(t)
	b := New("x")
	b.Reshape(2, 3, 4, 5)
	assert.Equal(t, "x", b.Name())
	assert.Equal(t, 4, b.NumAxes())
	assert.Equal(t, 2, b.Num())
	assert.Equal(t, 5, b.Dim(-1))
	assert.Equal(t, 60, b.CountFrom(1))
	assert.Equal(t, 12, b.CountRange(1, 3))

	s := b.Shape()
	s[0] = 99
	assert.Equal(t, 2, b.Num(), "Shape must return a copy")

	requireKind(t, check.ShapeMismatch, func() { b.Dim(4) })
}

func TestSetDataRoundTrip(t *testing.T) {
	setupHost(t)
	b := New("x")
	b.Reshape(2, 3)
	b.SetData([]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, b.Data())

	c := New("y")
	c.Reshape(6)
	c.CopyFrom(b)
	assert.Equal(t, b.Data(), c.Data())

	requireKind(t, check.WeightSizeMismatch, func() { b.SetData([]float32{1, 2}) })
	d := New("z")
	d.Reshape(5)
	requireKind(t, check.ShapeMismatch, func() { d.CopyFrom(b) })
}

func TestIndexBlob(t *testing.T) {
	setupHost(t)
	idx := NewOf[int32]("steps")
	idx.Reshape(4)
	idx.SetData([]int32{60, 20, 5, 1})
	assert.Equal(t, []int32{60, 20, 5, 1}, idx.Data())
	assert.Equal(t, 16, idx.Bytes())
}

func TestReleaseIsIdempotent(t *testing.T) {
	setupHost(t)
	b := New("x")
	b.Reshape(4)
	b.Release()
	b.Release()
	assert.Equal(t, 0, b.Count())
	requireKind(t, check.DeviceError, func() { b.Buffer() })

	b.Reshape(2)
	assert.Equal(t, 2, b.Count())
}

func TestReshapeRequiresContext(t *testing.T) {
	backend.Release()
	requireKind(t, check.DeviceError, func() { New("x").Reshape(1) })
}

func TestReshapeRejectsBadShapes(t *testing.T) {
	setupHost(t)
	requireKind(t, check.ShapeMismatch, func() { New("x").Reshape() })
	requireKind(t, check.ShapeMismatch, func() { New("x").Reshape(1, -1) })
}
