// Package compute holds the contracts shared by every backend: buffer
// handles, shapes, the Device interface and the closed enumerations the
// primitives are parameterized with.
package compute

import "fmt"

// Kind tags the backend that owns a Buffer.
type Kind int

const (
	Host Kind = iota
	CUDA
	OpenCL
)

func (k Kind) String() string {
	switch k {
	case Host:
		return "host"
	case CUDA:
		return "cuda"
	case OpenCL:
		return "opencl"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Buffer is an opaque device allocation. Only the Device that returned it
// may read, write or free it.
type Buffer interface {
	Kind() Kind
	// Bytes is the allocated size in bytes.
	Bytes() int
}

// Memory is the buffer-management half of a Device. All calls block until
// the device has finished.
type Memory interface {
	// Allocate returns a new buffer of the given size, filled from src when
	// src is not nil (len(src) must not exceed bytes).
	Allocate(bytes int, src []byte) Buffer
	Read(buf Buffer, dst []byte)
	Write(src []byte, buf Buffer)
	Copy(src, dst Buffer, bytes int)
	Free(buf Buffer)
}

// Primitives is the stateless instruction set every layer is built from.
// All element arguments are float32 unless noted; offsets and counts are in
// elements.
type Primitives interface {
	Im2Col(in Buffer, inShape Shape, offset, kernel, stride, pad int, outShape Shape, out Buffer)
	Pooling(in Buffer, inShape Shape, kernel, stride, pad int, mode PoolMode, outShape Shape, out Buffer)
	Concat(in Buffer, count, numConcats, concatSize, topAxisDim, bottomAxisDim, offsetAxis int, out Buffer)
	// Permute reads the order and step tables as int32 device buffers.
	Permute(in Buffer, count, numAxes int, order, oldSteps, newSteps Buffer, out Buffer)
	DataTransform(n int, in Buffer, scale, mean float32, out Buffer)
	ActivateArray(n int, act Activation, data Buffer)
	SetArray(n int, value float32, data Buffer)
	SetArrayRepeat(n int, value Buffer, valueSize int, out Buffer, offset int)
	Eltwise(n int, op EltwiseOp, a Buffer, coeffA float32, b Buffer, coeffB float32, out Buffer)

	// Gemm computes C = alpha*op(A)*op(B) + beta*C on row-major operands,
	// where op(A) is m x k, op(B) is k x n and C is m x n.
	Gemm(transA, transB bool, m, n, k int, alpha float32, a Buffer, offA int, b Buffer, offB int, beta float32, c Buffer, offC int)
}

// Device is one concrete compute target. Exactly one Device is active per
// process; see package backend.
type Device interface {
	Kind() Kind
	Name() string
	// Setup initializes the device. It is called once by backend.Setup.
	Setup(deviceID int) error
	// Release tears the device down. It must be a no-op when Setup never ran.
	Release()

	Memory
	Primitives
}

// ConvOutSize is the spatial output extent of a convolution or pooling window.
func ConvOutSize(in, kernel, pad, stride int) int {
	return (in+2*pad-kernel)/stride + 1
}
