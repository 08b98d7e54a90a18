package host

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

func randFloats(r *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Float32()*2 - 1
	}
	return out
}

func upload(d *Device, data []float32) compute.Buffer {
	return compute.Alloc(d, len(data), data)
}

func download(d *Device, buf compute.Buffer, n int) []float32 {
	out := make([]float32, n)
	compute.ReadInto(d, buf, out)
	return out
}

func requireClose(t *testing.T, want, got []float32, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tol {
			t.Fatalf("element %d: want %v got %v", i, want[i], got[i])
		}
	}
}

// naiveConv computes a single-sample direct convolution, filters laid out as
// [outC, C, k, k].
func naiveConv(in []float32, c, h, w int, filters []float32, outC, k, stride, pad int) []float32 {
	outH := compute.ConvOutSize(h, k, pad, stride)
	outW := compute.ConvOutSize(w, k, pad, stride)
	out := make([]float32, outC*outH*outW)
	for o := 0; o < outC; o++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				var sum float32
				for ch := 0; ch < c; ch++ {
					for kh := 0; kh < k; kh++ {
						for kw := 0; kw < k; kw++ {
							ih, iw := oh*stride-pad+kh, ow*stride-pad+kw
							if ih < 0 || ih >= h || iw < 0 || iw >= w {
								continue
							}
							sum += in[(ch*h+ih)*w+iw] * filters[((o*c+ch)*k+kh)*k+kw]
						}
					}
				}
				out[(o*outH+oh)*outW+ow] = sum
			}
		}
	}
	return out
}

func TestIm2ColGemmMatchesDirectConvolution(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	cases := []struct{ batch, c, h, w, outC, k, stride, pad int }{
		{1, 1, 5, 5, 1, 3, 1, 0},
		{2, 3, 7, 6, 4, 3, 1, 1},
		{1, 2, 8, 8, 3, 3, 2, 1},
		{3, 4, 5, 7, 2, 1, 1, 0},
		{1, 2, 6, 6, 2, 5, 3, 2},
	}
	for _, workers := range []int{1, 4} {
		d := New(WithWorkers(workers))
		for _, tc := range cases {
			outH := compute.ConvOutSize(tc.h, tc.k, tc.pad, tc.stride)
			outW := compute.ConvOutSize(tc.w, tc.k, tc.pad, tc.stride)
			inShape := compute.Shape{tc.batch, tc.c, tc.h, tc.w}
			outShape := compute.Shape{tc.batch, tc.outC, outH, outW}
			kdim := tc.c * tc.k * tc.k
			spatial := outH * outW

			input := randFloats(r, inShape.Size())
			filters := randFloats(r, tc.outC*kdim)
			in, filt := upload(d, input), upload(d, filters)
			col := compute.Alloc[float32](d, kdim*spatial, nil)
			out := compute.Alloc[float32](d, outShape.Size(), nil)

			sample := tc.c * tc.h * tc.w
			top := tc.outC * spatial
			for b := 0; b < tc.batch; b++ {
				d.Im2Col(in, inShape, b*sample, tc.k, tc.stride, tc.pad, outShape, col)
				d.Gemm(false, false, tc.outC, spatial, kdim, 1, filt, 0, col, 0, 0, out, b*top)
			}
			got := download(d, out, outShape.Size())
			for b := 0; b < tc.batch; b++ {
				want := naiveConv(input[b*sample:(b+1)*sample], tc.c, tc.h, tc.w, filters, tc.outC, tc.k, tc.stride, tc.pad)
				requireClose(t, want, got[b*top:(b+1)*top], 1e-4)
			}
		}
	}
}

func TestIm2ColZeroPadding(t *testing.T) {
	d := New()
	in := upload(d, []float32{1, 2, 3, 4})
	inShape := compute.Shape{1, 1, 2, 2}
	outShape := compute.Shape{1, 1, 2, 2}
	col := compute.Alloc[float32](d, 9*4, nil)
	d.Im2Col(in, inShape, 0, 3, 1, 1, outShape, col)
	got := download(d, col, 36)
	// Centre tap sees the input itself, the top-left tap is all padding but
	// for output (1,1).
	assert.Equal(t, []float32{1, 2, 3, 4}, got[4*4:5*4])
	assert.Equal(t, []float32{0, 0, 0, 1}, got[0:4])
}

func TestPoolingEdgeWindows(t *testing.T) {
	d := New()
	input := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	inShape := compute.Shape{1, 1, 3, 3}
	in := upload(d, input)

	outShape := compute.Shape{1, 1, compute.ConvOutSize(3, 2, 0, 2), compute.ConvOutSize(3, 2, 0, 2)}
	require.Equal(t, compute.Shape{1, 1, 1, 1}, outShape)
	out := compute.Alloc[float32](d, 1, nil)
	d.Pooling(in, inShape, 2, 2, 0, compute.PoolAverage, outShape, out)
	assert.Equal(t, []float32{3}, download(d, out, 1))
	d.Pooling(in, inShape, 2, 2, 0, compute.PoolMax, outShape, out)
	assert.Equal(t, []float32{5}, download(d, out, 1))

	// With pad 1 the corner windows cover one real pixel each: averages are
	// not diluted by the padding.
	padded := compute.Shape{1, 1, compute.ConvOutSize(3, 2, 1, 2), compute.ConvOutSize(3, 2, 1, 2)}
	require.Equal(t, compute.Shape{1, 1, 2, 2}, padded)
	out4 := compute.Alloc[float32](d, 4, nil)
	d.Pooling(in, inShape, 2, 2, 1, compute.PoolAverage, padded, out4)
	assert.Equal(t, []float32{1, 2.5, 5.5, 7}, download(d, out4, 4))
	d.Pooling(in, inShape, 2, 2, 1, compute.PoolMax, padded, out4)
	assert.Equal(t, []float32{1, 3, 7, 9}, download(d, out4, 4))
}

func TestPoolingMaxAllNegative(t *testing.T) {
	d := New()
	in := upload(d, []float32{-5, -3, -4, -2})
	out := compute.Alloc[float32](d, 1, nil)
	d.Pooling(in, compute.Shape{1, 1, 2, 2}, 2, 2, 0, compute.PoolMax, compute.Shape{1, 1, 1, 1}, out)
	assert.Equal(t, []float32{-2}, download(d, out, 1))
}

func TestConcatChannels(t *testing.T) {
	d := New()
	const n, h, w = 2, 2, 3
	r := rand.New(rand.NewSource(7))
	a := randFloats(r, n*2*h*w)
	b := randFloats(r, n*3*h*w)
	out := compute.Alloc[float32](d, n*5*h*w, nil)
	spatial := h * w
	d.Concat(upload(d, a), len(a), n, spatial, 5, 2, 0, out)
	d.Concat(upload(d, b), len(b), n, spatial, 5, 3, 2, out)
	got := download(d, out, n*5*h*w)
	for s := 0; s < n; s++ {
		assert.Equal(t, a[s*2*spatial:(s+1)*2*spatial], got[s*5*spatial:][:2*spatial])
		assert.Equal(t, b[s*3*spatial:(s+1)*3*spatial], got[(s*5+2)*spatial:][:3*spatial])
	}
}

func TestPermuteTranspose(t *testing.T) {
	d := New()
	// (2,3) -> (3,2)
	in := upload(d, []float32{0, 1, 2, 3, 4, 5})
	oldShape := compute.Shape{2, 3}
	newShape := compute.Shape{3, 2}
	order := compute.Alloc(d, 2, []int32{1, 0})
	olds := compute.Alloc(d, 2, compute.Int32s(oldShape.Steps()))
	news := compute.Alloc(d, 2, compute.Int32s(newShape.Steps()))
	out := compute.Alloc[float32](d, 6, nil)
	d.Permute(in, 6, 2, order, olds, news, out)
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, download(d, out, 6))
}

func TestGemmTransposeAndOffsets(t *testing.T) {
	d := New()
	r := rand.New(rand.NewSource(3))
	const m, n, k = 4, 5, 3
	for _, tc := range []struct{ ta, tb bool }{{false, false}, {true, false}, {false, true}, {true, true}} {
		a := randFloats(r, m*k)
		b := randFloats(r, k*n)
		c0 := randFloats(r, m*n)
		want := make([]float32, m*n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for p := 0; p < k; p++ {
					av := a[i*k+p]
					if tc.ta {
						av = a[p*m+i]
					}
					bv := b[p*n+j]
					if tc.tb {
						bv = b[j*k+p]
					}
					sum += av * bv
				}
				want[i*n+j] = 2*sum + 0.5*c0[i*n+j]
			}
		}
		// Place every operand behind a 3-element prefix.
		pad := []float32{9, 9, 9}
		A := upload(d, append(append([]float32{}, pad...), a...))
		B := upload(d, append(append([]float32{}, pad...), b...))
		C := upload(d, append(append([]float32{}, pad...), c0...))
		d.Gemm(tc.ta, tc.tb, m, n, k, 2, A, 3, B, 3, 0.5, C, 3)
		got := download(d, C, 3+m*n)
		assert.Equal(t, pad, got[:3])
		requireClose(t, want, got[3:], 1e-5)
	}
}

func TestBiasBroadcastGemm(t *testing.T) {
	d := New()
	bias := upload(d, []float32{1, 2})
	ones := compute.Alloc[float32](d, 3, nil)
	d.SetArray(3, 1, ones)
	out := upload(d, []float32{10, 10, 10, 20, 20, 20})
	d.Gemm(false, false, 2, 3, 1, 1, bias, 0, ones, 0, 1, out, 0)
	assert.Equal(t, []float32{11, 11, 11, 22, 22, 22}, download(d, out, 6))
}

func TestGemmEmptyInnerDimension(t *testing.T) {
	d := New()
	nan := float32(math.NaN())
	empty := compute.Alloc[float32](d, 0, nil)

	c := upload(d, []float32{7, nan, float32(math.Inf(1)), 4, 5})
	d.Gemm(false, false, 2, 2, 0, 1, empty, 0, empty, 0, 0, c, 1)
	assert.Equal(t, []float32{7, 0, 0, 0, 0}, download(d, c, 5))

	c = upload(d, []float32{1, 2, 3, 4})
	d.Gemm(false, false, 2, 2, 0, 1, empty, 0, empty, 0, 0.5, c, 0)
	assert.Equal(t, []float32{0.5, 1, 1.5, 2}, download(d, c, 4))
}

func TestElementwisePrimitives(t *testing.T) {
	d := New()
	x := upload(d, []float32{-2, -0.5, 0, 1.5})
	d.ActivateArray(4, compute.ReLU, x)
	assert.Equal(t, []float32{0, 0, 0, 1.5}, download(d, x, 4))

	y := upload(d, []float32{-2, 3})
	d.ActivateArray(2, compute.Leaky, y)
	requireClose(t, []float32{-0.2, 3}, download(d, y, 2), 1e-6)

	z := upload(d, []float32{0, 100, -100})
	d.ActivateArray(3, compute.Logistic, z)
	requireClose(t, []float32{0.5, 1, 0}, download(d, z, 3), 1e-6)

	th := upload(d, []float32{0, 1, -30})
	d.ActivateArray(3, compute.Tanh, th)
	requireClose(t, []float32{0, float32(math.Tanh(1)), -1}, download(d, th, 3), 1e-6)

	in := upload(d, []float32{10, 20, 30})
	out := compute.Alloc[float32](d, 3, nil)
	d.DataTransform(3, in, 0.5, 10, out)
	assert.Equal(t, []float32{0, 5, 10}, download(d, out, 3))

	vals := upload(d, []float32{7, 8})
	rep := compute.Alloc[float32](d, 7, nil)
	d.SetArrayRepeat(3, vals, 2, rep, 1)
	assert.Equal(t, []float32{0, 7, 7, 7, 8, 8, 8}, download(d, rep, 7))

	a := upload(d, []float32{1, 5, -1})
	b := upload(d, []float32{2, 3, -4})
	o := compute.Alloc[float32](d, 3, nil)
	d.Eltwise(3, compute.EltwiseSum, a, 1, b, -2, o)
	assert.Equal(t, []float32{-3, -1, 7}, download(d, o, 3))
	d.Eltwise(3, compute.EltwiseProd, a, 1, b, 1, o)
	assert.Equal(t, []float32{2, 15, 4}, download(d, o, 3))
	d.Eltwise(3, compute.EltwiseMax, a, 1, b, 1, a)
	assert.Equal(t, []float32{2, 5, -1}, download(d, a, 3))
}

func TestMemoryCopyAndFree(t *testing.T) {
	d := New()
	src := upload(d, []float32{1, 2, 3, 4})
	dst := compute.Alloc[float32](d, 4, nil)
	compute.CopyN[float32](d, src, dst, 3)
	assert.Equal(t, []float32{1, 2, 3, 0}, download(d, dst, 4))
	assert.Equal(t, compute.Host, dst.Kind())
	assert.Equal(t, 16, dst.Bytes())

	d.Free(dst)
	err := check.Catch(func() { d.Free(dst) })
	kind, ok := check.KindOf(err)
	require.True(t, ok, "double free must be fatal")
	assert.Equal(t, check.DeviceError, kind)

	err = check.Catch(func() { compute.ReadInto(d, src, make([]float32, 5)) })
	kind, _ = check.KindOf(err)
	assert.Equal(t, check.DeviceError, kind)
}
