// Package blob holds named tensors backed by device memory.
//
// A blob's buffer only ever grows: reshaping to a smaller count keeps the
// allocation and updates the shape, reshaping past the capacity frees the
// old buffer and allocates a new one. Contents are not preserved across a
// reallocation.
package blob

import (
	"github.com/samcharles93/shadow/internal/backend"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

// Of is a blob of element type T.
type Of[T compute.Element] struct {
	name     string
	shape    compute.Shape
	buf      compute.Buffer
	capacity int
	dev      compute.Device
}

// Blob is the float32 tensor every layer reads and writes.
type Blob = Of[float32]

// Index is an int32 blob, used for the step tables of Permute.
type Index = Of[int32]

// New returns an empty float32 blob. It holds no buffer until the first
// Reshape.
func New(name string) *Blob {
	return &Blob{name: name}
}

// NewOf returns an empty blob of element type T.
func NewOf[T compute.Element](name string) *Of[T] {
	return &Of[T]{name: name}
}

func (b *Of[T]) Name() string { return b.name }

// Shape returns a copy of the current shape.
func (b *Of[T]) Shape() compute.Shape { return b.shape.Clone() }

func (b *Of[T]) NumAxes() int { return len(b.shape) }

// Dim returns the size of axis i. Negative i counts from the last axis.
func (b *Of[T]) Dim(i int) int {
	if i < 0 {
		i += len(b.shape)
	}
	if i < 0 || i >= len(b.shape) {
		check.Failf(check.ShapeMismatch, "blob %s: axis %d out of range for %v", b.name, i, b.shape)
	}
	return b.shape[i]
}

// Num is the leading (batch) dimension.
func (b *Of[T]) Num() int { return b.Dim(0) }

func (b *Of[T]) Count() int {
	if b.shape == nil {
		return 0
	}
	return b.shape.Size()
}

func (b *Of[T]) CountRange(start, end int) int { return b.shape.Count(start, end) }
func (b *Of[T]) CountFrom(start int) int       { return b.shape.CountFrom(start) }

// Capacity is the element count of the allocated buffer.
func (b *Of[T]) Capacity() int { return b.capacity }

// Bytes is the size of the allocated buffer.
func (b *Of[T]) Bytes() int { return b.capacity * compute.SizeOf[T]() }

// Reshape sets the shape, reallocating only if the new count exceeds the
// capacity. The device context must be live.
func (b *Of[T]) Reshape(shape ...int) {
	if len(shape) == 0 {
		check.Failf(check.ShapeMismatch, "blob %s: empty shape", b.name)
	}
	for _, d := range shape {
		if d < 0 {
			check.Failf(check.ShapeMismatch, "blob %s: negative dimension in %v", b.name, shape)
		}
	}
	next := compute.Shape(shape).Clone()
	count := next.Size()
	if b.buf == nil || count > b.capacity {
		dev := backend.Active()
		if b.buf != nil {
			b.dev.Free(b.buf)
		}
		b.buf = compute.Alloc[T](dev, count, nil)
		b.dev = dev
		b.capacity = count
	}
	b.shape = next
}

// ReshapeLike gives b the shape of other.
func (b *Of[T]) ReshapeLike(other interface{ Shape() compute.Shape }) {
	b.Reshape(other.Shape()...)
}

// Buffer is the owned device buffer. Only valid between Reshape and Release.
func (b *Of[T]) Buffer() compute.Buffer {
	if b.buf == nil {
		check.Failf(check.DeviceError, "blob %s: no buffer (not reshaped or released)", b.name)
	}
	return b.buf
}

// Device is the device the buffer was allocated on.
func (b *Of[T]) Device() compute.Device {
	b.Buffer()
	return b.dev
}

// SetData uploads data. Its length must equal Count.
func (b *Of[T]) SetData(data []T) {
	if len(data) != b.Count() {
		check.Failf(check.WeightSizeMismatch, "blob %s: got %d values, shape %v holds %d", b.name, len(data), b.shape, b.Count())
	}
	compute.WriteFrom(b.dev, data, b.Buffer())
}

// Data downloads the current contents.
func (b *Of[T]) Data() []T {
	out := make([]T, b.Count())
	compute.ReadInto(b.dev, b.Buffer(), out)
	return out
}

// CopyFrom copies src's contents into b. Counts must match.
func (b *Of[T]) CopyFrom(src *Of[T]) {
	if src.Count() != b.Count() {
		check.Failf(check.ShapeMismatch, "blob %s: copy from %s with %v into %v", b.name, src.name, src.shape, b.shape)
	}
	compute.CopyN[T](b.dev, src.Buffer(), b.Buffer(), b.Count())
}

// Release frees the buffer. Repeated calls are no-ops.
func (b *Of[T]) Release() {
	if b.buf != nil {
		b.dev.Free(b.buf)
	}
	b.buf, b.dev = nil, nil
	b.shape, b.capacity = nil, 0
}
