//go:build cuda

package cuda

import (
	"unsafe"

	"github.com/samcharles93/shadow/internal/backend/cuda/native"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

func hostPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func i32(v int) int32 { return int32(v) }

func (d *Device) Im2Col(in compute.Buffer, inShape compute.Shape, offset, kernel, stride, pad int, outShape compute.Shape, out compute.Buffer) {
	c, h, w := inShape[1], inShape[2], inShape[3]
	outH, outW := outShape[2], outShape[3]
	d.launch("Im2Col", c*outH*outW,
		d.buf(in).mem, i32(offset), i32(c), i32(h), i32(w),
		i32(kernel), i32(stride), i32(pad), i32(outH), i32(outW), d.buf(out).mem)
}

func (d *Device) Pooling(in compute.Buffer, inShape compute.Shape, kernel, stride, pad int, mode compute.PoolMode, outShape compute.Shape, out compute.Buffer) {
	batch, c, h, w := inShape[0], inShape[1], inShape[2], inShape[3]
	outH, outW := outShape[2], outShape[3]
	d.launch("Pooling", batch*c*outH*outW,
		d.buf(in).mem, i32(batch), i32(c), i32(h), i32(w),
		i32(kernel), i32(stride), i32(pad), i32(int(mode)), i32(outH), i32(outW), d.buf(out).mem)
}

func (d *Device) Concat(in compute.Buffer, count, numConcats, concatSize, topAxisDim, bottomAxisDim, offsetAxis int, out compute.Buffer) {
	d.launch("Concat", count,
		d.buf(in).mem, i32(count), i32(numConcats), i32(concatSize),
		i32(topAxisDim), i32(bottomAxisDim), i32(offsetAxis), d.buf(out).mem)
}

func (d *Device) Permute(in compute.Buffer, count, numAxes int, order, oldSteps, newSteps compute.Buffer, out compute.Buffer) {
	d.launch("Permute", count,
		d.buf(in).mem, i32(count), i32(numAxes),
		d.buf(order).mem, d.buf(oldSteps).mem, d.buf(newSteps).mem, d.buf(out).mem)
}

func (d *Device) DataTransform(n int, in compute.Buffer, scale, mean float32, out compute.Buffer) {
	d.launch("DataTransform", n, i32(n), d.buf(in).mem, scale, mean, d.buf(out).mem)
}

func (d *Device) ActivateArray(n int, act compute.Activation, data compute.Buffer) {
	if act == compute.Linear {
		return
	}
	d.launch("ActivateArray", n, i32(n), i32(int(act)), d.buf(data).mem)
}

func (d *Device) SetArray(n int, value float32, data compute.Buffer) {
	d.launch("SetArray", n, i32(n), value, d.buf(data).mem)
}

func (d *Device) SetArrayRepeat(n int, value compute.Buffer, valueSize int, out compute.Buffer, offset int) {
	d.launch("SetArrayRepeat", n*valueSize, i32(n), d.buf(value).mem, i32(valueSize), d.buf(out).mem, i32(offset))
}

func (d *Device) Eltwise(n int, op compute.EltwiseOp, a compute.Buffer, coeffA float32, b compute.Buffer, coeffB float32, out compute.Buffer) {
	d.launch("Eltwise", n, i32(n), i32(int(op)), d.buf(a).mem, coeffA, d.buf(b).mem, coeffB, d.buf(out).mem)
}

// Gemm computes the row-major product by asking cuBLAS for its transpose:
// C^T = op(B)^T op(A)^T, which column-major storage reads back as C.
func (d *Device) Gemm(transA, transB bool, m, n, k int, alpha float32, a compute.Buffer, offA int, b compute.Buffer, offB int, beta float32, c compute.Buffer, offC int) {
	if m == 0 || n == 0 {
		return
	}
	d.bind()
	A, B, C := d.buf(a), d.buf(b), d.buf(c)
	if (offA+m*k)*4 > A.bytes || (offB+k*n)*4 > B.bytes || (offC+m*n)*4 > C.bytes {
		check.Failf(check.DeviceError, "cuda: gemm %dx%dx%d exceeds operand buffers", m, n, k)
	}
	lda, ldb := k, n
	opA, opB := native.BlasOpN, native.BlasOpN
	if transA {
		lda, opA = m, native.BlasOpT
	}
	if transB {
		ldb, opB = k, native.BlasOpT
	}
	err := native.Sgemm(d.blas, opB, opA, n, m, k,
		alpha, B.mem.At(offB*4), max(ldb, 1), A.mem.At(offA*4), max(lda, 1),
		beta, C.mem.At(offC*4), n)
	check.Device(err, "cuda: gemm")
	check.Device(native.Synchronize(), "cuda: gemm")
}
