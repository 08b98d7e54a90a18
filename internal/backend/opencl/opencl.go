//go:build opencl

// Package opencl implements compute.Device on any OpenCL 1.2 device. Every
// primitive, Gemm included, is a kernel from kernels.cl built at Setup.
package opencl

import (
	_ "embed"
	"fmt"

	"github.com/samcharles93/shadow/internal/backend/opencl/native"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

//go:embed kernels.cl
var kernelSource string

// BuildOptions are passed to the OpenCL compiler.
var BuildOptions = "-cl-fast-relaxed-math"

var kernelNames = []string{
	"DataTransform", "Im2Col", "Pooling", "Concat", "Permute",
	"ActivateArray", "SetArray", "SetArrayRepeat", "Eltwise", "Gemm",
}

type buffer struct {
	mem   native.Mem
	bytes int
	freed bool
}

func (b *buffer) Kind() compute.Kind { return compute.OpenCL }
func (b *buffer) Bytes() int         { return b.bytes }

type Device struct {
	rt      *native.Runtime
	program native.Program
	kernels map[string]native.Kernel
}

func New() (*Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("opencl device query failed: %w", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no opencl devices detected")
	}
	return &Device{}, nil
}

func (d *Device) Kind() compute.Kind { return compute.OpenCL }
func (d *Device) Name() string       { return compute.OpenCL.String() }

func (d *Device) Setup(deviceID int) error {
	rt, err := native.Open(deviceID)
	if err != nil {
		return err
	}
	prog, err := rt.Build(kernelSource, BuildOptions)
	if err != nil {
		rt.Close()
		return err
	}
	kernels := make(map[string]native.Kernel, len(kernelNames))
	for _, name := range kernelNames {
		k, err := prog.Kernel(name)
		if err != nil {
			for _, built := range kernels {
				built.Release()
			}
			prog.Release()
			rt.Close()
			return err
		}
		kernels[name] = k
	}
	d.rt, d.program, d.kernels = rt, prog, kernels
	return nil
}

func (d *Device) Release() {
	if d.rt == nil {
		return
	}
	for _, k := range d.kernels {
		k.Release()
	}
	d.program.Release()
	d.rt.Close()
	d.rt, d.kernels = nil, nil
}

func (d *Device) runtime() *native.Runtime {
	if d.rt == nil {
		check.Failf(check.DeviceError, "opencl: device not set up")
	}
	return d.rt
}

func (d *Device) Allocate(bytes int, src []byte) compute.Buffer {
	rt := d.runtime()
	if bytes < 0 || len(src) > bytes {
		check.Failf(check.DeviceError, "opencl: bad allocation of %d bytes (source %d)", bytes, len(src))
	}
	b := &buffer{bytes: bytes}
	if bytes == 0 {
		return b
	}
	mem, err := rt.Alloc(int64(bytes))
	check.Device(err, "opencl: allocate")
	b.mem = mem
	if len(src) > 0 {
		check.Device(rt.Write(mem, hostPtr(src), int64(len(src))), "opencl: upload")
	}
	return b
}

func (d *Device) Read(buf compute.Buffer, dst []byte) {
	rt, b := d.runtime(), d.buf(buf)
	if len(dst) > b.bytes {
		check.Failf(check.DeviceError, "opencl: read of %d bytes from buffer of %d", len(dst), b.bytes)
	}
	check.Device(rt.Read(hostPtr(dst), b.mem, int64(len(dst))), "opencl: read")
}

func (d *Device) Write(src []byte, buf compute.Buffer) {
	rt, b := d.runtime(), d.buf(buf)
	if len(src) > b.bytes {
		check.Failf(check.DeviceError, "opencl: write of %d bytes into buffer of %d", len(src), b.bytes)
	}
	check.Device(rt.Write(b.mem, hostPtr(src), int64(len(src))), "opencl: write")
}

func (d *Device) Copy(src, dst compute.Buffer, bytes int) {
	rt := d.runtime()
	s, t := d.buf(src), d.buf(dst)
	if bytes > s.bytes || bytes > t.bytes {
		check.Failf(check.DeviceError, "opencl: copy of %d bytes between buffers of %d and %d", bytes, s.bytes, t.bytes)
	}
	check.Device(rt.Copy(t.mem, s.mem, int64(bytes)), "opencl: copy")
}

func (d *Device) Free(buf compute.Buffer) {
	b := d.buf(buf)
	b.freed = true
	if d.rt != nil {
		check.Device(b.mem.Release(), "opencl: free")
	}
}

func (d *Device) buf(buf compute.Buffer) *buffer {
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		check.Failf(check.DeviceError, "opencl: foreign buffer %T", buf)
	}
	if b.freed {
		check.Failf(check.DeviceError, "opencl: use of freed buffer")
	}
	return b
}

func (d *Device) run(name string, n int, args ...any) {
	if n <= 0 {
		return
	}
	check.Device(d.runtime().Run(d.kernels[name], n, args...), "opencl: "+name)
}
