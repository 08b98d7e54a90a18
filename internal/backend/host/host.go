// Package host implements compute.Device on ordinary Go memory.
//
// Buffers are float32-backed slices so that both float32 and int32 views are
// aligned. Primitives that iterate over independent channel planes fan out
// across goroutines; every output element is still produced by exactly one
// sequential loop, so results do not depend on the worker count.
package host

import (
	"runtime"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

type buffer struct {
	data  []float32
	bytes int
	freed bool
}

func (b *buffer) Kind() compute.Kind { return compute.Host }
func (b *buffer) Bytes() int         { return b.bytes }

func (b *buffer) raw() []byte {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.data[0])), b.bytes)
}

// Device is the host backend.
type Device struct {
	workers int
}

// Option configures a Device.
type Option func(*Device)

// WithWorkers bounds the goroutines a primitive may use. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(d *Device) {
		d.workers = max(n, 1)
	}
}

// New returns a host device using GOMAXPROCS workers unless overridden.
func New(opts ...Option) *Device {
	d := &Device{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Kind() compute.Kind { return compute.Host }
func (d *Device) Name() string       { return compute.Host.String() }

// Setup has nothing to initialize on the host; any device id is accepted.
func (d *Device) Setup(deviceID int) error { return nil }
func (d *Device) Release()                 {}

func (d *Device) Allocate(bytes int, src []byte) compute.Buffer {
	if bytes < 0 {
		check.Failf(check.DeviceError, "host: negative allocation %d", bytes)
	}
	if len(src) > bytes {
		check.Failf(check.DeviceError, "host: source of %d bytes exceeds allocation of %d", len(src), bytes)
	}
	b := &buffer{data: make([]float32, (bytes+3)/4), bytes: bytes}
	if src != nil {
		copy(b.raw(), src)
	}
	return b
}

func (d *Device) Read(buf compute.Buffer, dst []byte) {
	b := d.buf(buf)
	if len(dst) > b.bytes {
		check.Failf(check.DeviceError, "host: read of %d bytes from buffer of %d", len(dst), b.bytes)
	}
	copy(dst, b.raw())
}

func (d *Device) Write(src []byte, buf compute.Buffer) {
	b := d.buf(buf)
	if len(src) > b.bytes {
		check.Failf(check.DeviceError, "host: write of %d bytes into buffer of %d", len(src), b.bytes)
	}
	copy(b.raw(), src)
}

func (d *Device) Copy(src, dst compute.Buffer, bytes int) {
	s, t := d.buf(src), d.buf(dst)
	if bytes > s.bytes || bytes > t.bytes {
		check.Failf(check.DeviceError, "host: copy of %d bytes between buffers of %d and %d", bytes, s.bytes, t.bytes)
	}
	copy(t.raw()[:bytes], s.raw()[:bytes])
}

func (d *Device) Free(buf compute.Buffer) {
	b := d.buf(buf)
	b.freed = true
	b.data = nil
}

func (d *Device) buf(buf compute.Buffer) *buffer {
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		check.Failf(check.DeviceError, "host: foreign buffer %T", buf)
	}
	if b.freed {
		check.Failf(check.DeviceError, "host: use of freed buffer")
	}
	return b
}

func (d *Device) floats(buf compute.Buffer) []float32 {
	b := d.buf(buf)
	return b.data[:b.bytes/4]
}

func (d *Device) ints(buf compute.Buffer) []int32 {
	f := d.floats(buf)
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&f[0])), len(f))
}

// parallel runs fn(i) for i in [0,n) on at most d.workers goroutines.
func (d *Device) parallel(n int, fn func(i int)) {
	if n <= 1 || d.workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(d.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

func need(name string, have, want int) {
	if want > have {
		check.Failf(check.DeviceError, "host: %s needs %d elements, buffer holds %d", name, want, have)
	}
}
