//go:build cuda

// Package cuda implements compute.Device on an NVIDIA GPU through the CUDA
// runtime, cuBLAS for Gemm and NVRTC-compiled kernels for the remaining
// primitives.
package cuda

import (
	_ "embed"
	"fmt"

	"github.com/samcharles93/shadow/internal/backend/cuda/native"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

//go:embed kernels.cu
var kernelSource string

// Arch is the virtual architecture the kernels are compiled for.
var Arch = "compute_52"

const blockSize = 512

var kernelNames = []string{
	"DataTransform", "Im2Col", "Pooling", "Concat", "Permute",
	"ActivateArray", "SetArray", "SetArrayRepeat", "Eltwise",
}

type buffer struct {
	mem   native.DeviceBuffer
	bytes int
	freed bool
}

func (b *buffer) Kind() compute.Kind { return compute.CUDA }
func (b *buffer) Bytes() int         { return b.bytes }

type Device struct {
	id      int
	live    bool
	blas    native.BlasHandle
	module  native.Module
	kernels map[string]native.Function
}

func New() (*Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda devices detected")
	}
	return &Device{}, nil
}

func (d *Device) Kind() compute.Kind { return compute.CUDA }
func (d *Device) Name() string       { return compute.CUDA.String() }

func (d *Device) Setup(deviceID int) error {
	count, err := native.DeviceCount()
	if err != nil {
		return err
	}
	if deviceID < 0 || deviceID >= count {
		return fmt.Errorf("cuda device %d out of range (%d devices)", deviceID, count)
	}
	if err := native.SetDevice(deviceID); err != nil {
		return err
	}
	ptx, err := native.CompilePTX(kernelSource, "kernels.cu", Arch)
	if err != nil {
		return err
	}
	mod, err := native.LoadModule(ptx)
	if err != nil {
		return err
	}
	kernels := make(map[string]native.Function, len(kernelNames))
	for _, name := range kernelNames {
		fn, err := mod.Function(name)
		if err != nil {
			_ = mod.Unload()
			return err
		}
		kernels[name] = fn
	}
	blas, err := native.NewBlasHandle()
	if err != nil {
		_ = mod.Unload()
		return fmt.Errorf("cublas init failed: %w", err)
	}
	d.id, d.module, d.kernels, d.blas, d.live = deviceID, mod, kernels, blas, true
	return nil
}

func (d *Device) Release() {
	if !d.live {
		return
	}
	d.bind()
	_ = d.blas.Destroy()
	_ = d.module.Unload()
	d.kernels = nil
	d.live = false
}

// bind rebinds the device on the current OS thread. CUDA tracks the current
// device per thread and goroutines are not pinned to one.
func (d *Device) bind() {
	if !d.live {
		check.Failf(check.DeviceError, "cuda: device not set up")
	}
	check.Device(native.BindDevice(d.id), "cuda: bind device")
}

func (d *Device) Allocate(bytes int, src []byte) compute.Buffer {
	d.bind()
	if bytes < 0 || len(src) > bytes {
		check.Failf(check.DeviceError, "cuda: bad allocation of %d bytes (source %d)", bytes, len(src))
	}
	b := &buffer{bytes: bytes}
	if bytes == 0 {
		return b
	}
	mem, err := native.AllocDevice(int64(bytes))
	check.Device(err, "cuda: allocate")
	b.mem = mem
	if len(src) > 0 {
		check.Device(native.MemcpyH2D(mem, hostPtr(src), int64(len(src))), "cuda: upload")
	}
	return b
}

func (d *Device) Read(buf compute.Buffer, dst []byte) {
	d.bind()
	b := d.buf(buf)
	if len(dst) > b.bytes {
		check.Failf(check.DeviceError, "cuda: read of %d bytes from buffer of %d", len(dst), b.bytes)
	}
	check.Device(native.MemcpyD2H(hostPtr(dst), b.mem, int64(len(dst))), "cuda: read")
}

func (d *Device) Write(src []byte, buf compute.Buffer) {
	d.bind()
	b := d.buf(buf)
	if len(src) > b.bytes {
		check.Failf(check.DeviceError, "cuda: write of %d bytes into buffer of %d", len(src), b.bytes)
	}
	check.Device(native.MemcpyH2D(b.mem, hostPtr(src), int64(len(src))), "cuda: write")
}

func (d *Device) Copy(src, dst compute.Buffer, bytes int) {
	d.bind()
	s, t := d.buf(src), d.buf(dst)
	if bytes > s.bytes || bytes > t.bytes {
		check.Failf(check.DeviceError, "cuda: copy of %d bytes between buffers of %d and %d", bytes, s.bytes, t.bytes)
	}
	check.Device(native.MemcpyD2D(t.mem, s.mem, int64(bytes)), "cuda: copy")
}

func (d *Device) Free(buf compute.Buffer) {
	b := d.buf(buf)
	b.freed = true
	if d.live {
		d.bind()
		check.Device(b.mem.Free(), "cuda: free")
	}
}

func (d *Device) buf(buf compute.Buffer) *buffer {
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		check.Failf(check.DeviceError, "cuda: foreign buffer %T", buf)
	}
	if b.freed {
		check.Failf(check.DeviceError, "cuda: use of freed buffer")
	}
	return b
}

// launch runs the named kernel over n threads and waits for it.
func (d *Device) launch(name string, n int, args ...any) {
	if n <= 0 {
		return
	}
	d.bind()
	grid := (n + blockSize - 1) / blockSize
	check.Device(native.Launch(d.kernels[name], grid, blockSize, args...), "cuda: launch "+name)
	check.Device(native.Synchronize(), "cuda: "+name)
}
