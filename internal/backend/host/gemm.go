package host

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/samcharles93/shadow/internal/compute"
)

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// Gemm delegates to the gonum BLAS implementation. Offsets become sub-slices
// so several logical matrices can share one allocation.
func (d *Device) Gemm(transA, transB bool, m, n, k int, alpha float32, a compute.Buffer, offA int, b compute.Buffer, offB int, beta float32, c compute.Buffer, offC int) {
	A, B, C := d.floats(a), d.floats(b), d.floats(c)
	if m == 0 || n == 0 {
		return
	}
	lda, ldb, ldc := k, n, n
	if transA {
		lda = m
	}
	if transB {
		ldb = k
	}
	need("gemm A", len(A), offA+m*k)
	need("gemm B", len(B), offB+k*n)
	need("gemm C", len(C), offC+m*n)
	if k == 0 {
		out := C[offC : offC+m*n]
		if beta == 0 {
			clear(out)
			return
		}
		for i := range out {
			out[i] *= beta
		}
		return
	}

	blas32.Implementation().Sgemm(transpose(transA), transpose(transB), m, n, k,
		alpha, A[offA:], max(lda, 1), B[offB:], max(ldb, 1), beta, C[offC:], ldc)
}
