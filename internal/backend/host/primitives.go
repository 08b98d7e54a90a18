package host

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/samcharles93/shadow/internal/compute"
)

func (d *Device) Im2Col(in compute.Buffer, inShape compute.Shape, offset, kernel, stride, pad int, outShape compute.Shape, out compute.Buffer) {
	src, col := d.floats(in), d.floats(out)
	c, h, w := inShape[1], inShape[2], inShape[3]
	outH, outW := outShape[2], outShape[3]
	spatial := outH * outW
	need("im2col input", len(src), offset+c*h*w)
	need("im2col columns", len(col), c*kernel*kernel*spatial)

	d.parallel(c, func(ch int) {
		plane := src[offset+ch*h*w : offset+(ch+1)*h*w]
		for kh := 0; kh < kernel; kh++ {
			for kw := 0; kw < kernel; kw++ {
				row := col[((ch*kernel+kh)*kernel+kw)*spatial:][:spatial]
				idx := 0
				for oh := 0; oh < outH; oh++ {
					ih := oh*stride - pad + kh
					for ow := 0; ow < outW; ow++ {
						iw := ow*stride - pad + kw
						if ih >= 0 && ih < h && iw >= 0 && iw < w {
							row[idx] = plane[ih*w+iw]
						} else {
							row[idx] = 0
						}
						idx++
					}
				}
			}
		}
	})
}

func (d *Device) Pooling(in compute.Buffer, inShape compute.Shape, kernel, stride, pad int, mode compute.PoolMode, outShape compute.Shape, out compute.Buffer) {
	src, dst := d.floats(in), d.floats(out)
	batch, c, h, w := inShape[0], inShape[1], inShape[2], inShape[3]
	outH, outW := outShape[2], outShape[3]
	need("pooling input", len(src), batch*c*h*w)
	need("pooling output", len(dst), batch*c*outH*outW)

	d.parallel(batch*c, func(p int) {
		plane := src[p*h*w : (p+1)*h*w]
		res := dst[p*outH*outW : (p+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			hs := oh*stride - pad
			he := min(hs+kernel, h)
			hs = max(hs, 0)
			for ow := 0; ow < outW; ow++ {
				ws := ow*stride - pad
				we := min(ws+kernel, w)
				ws = max(ws, 0)
				res[oh*outW+ow] = poolWindow(plane, w, hs, he, ws, we, mode)
			}
		}
	})
}

// poolWindow reduces plane[hs:he, ws:we]. Positions outside the input were
// already clipped away by the caller.
func poolWindow(plane []float32, w, hs, he, ws, we int, mode compute.PoolMode) float32 {
	if he <= hs || we <= ws {
		return 0
	}
	if mode == compute.PoolMax {
		v := float32(-math.MaxFloat32)
		for y := hs; y < he; y++ {
			for x := ws; x < we; x++ {
				v = max(v, plane[y*w+x])
			}
		}
		return v
	}
	var sum float32
	for y := hs; y < he; y++ {
		for x := ws; x < we; x++ {
			sum += plane[y*w+x]
		}
	}
	return sum / float32((he-hs)*(we-ws))
}

func (d *Device) Concat(in compute.Buffer, count, numConcats, concatSize, topAxisDim, bottomAxisDim, offsetAxis int, out compute.Buffer) {
	src, dst := d.floats(in), d.floats(out)
	block := bottomAxisDim * concatSize
	need("concat input", len(src), count)
	need("concat output", len(dst), numConcats*topAxisDim*concatSize)
	for n := 0; n < numConcats; n++ {
		copy(dst[(n*topAxisDim+offsetAxis)*concatSize:][:block], src[n*block:(n+1)*block])
	}
}

func (d *Device) Permute(in compute.Buffer, count, numAxes int, order, oldSteps, newSteps compute.Buffer, out compute.Buffer) {
	src, dst := d.floats(in), d.floats(out)
	ord, olds, news := d.ints(order), d.ints(oldSteps), d.ints(newSteps)
	need("permute input", len(src), count)
	need("permute output", len(dst), count)
	for i := 0; i < count; i++ {
		idx, old := i, 0
		for j := 0; j < numAxes; j++ {
			step := int(news[j])
			old += (idx / step) * int(olds[ord[j]])
			idx %= step
		}
		dst[i] = src[old]
	}
}

func (d *Device) DataTransform(n int, in compute.Buffer, scale, mean float32, out compute.Buffer) {
	src, dst := d.floats(in), d.floats(out)
	need("data transform input", len(src), n)
	need("data transform output", len(dst), n)
	for i := 0; i < n; i++ {
		dst[i] = (src[i] - mean) * scale
	}
}

func (d *Device) ActivateArray(n int, act compute.Activation, data compute.Buffer) {
	x := d.floats(data)
	need("activation", len(x), n)
	x = x[:n]
	switch act {
	case compute.Linear:
	case compute.ReLU:
		for i, v := range x {
			x[i] = max(v, 0)
		}
	case compute.Leaky:
		for i, v := range x {
			if v < 0 {
				x[i] = v * compute.LeakySlope
			}
		}
	case compute.Logistic:
		for i, v := range x {
			x[i] = 1 / (1 + math32.Exp(-v))
		}
	case compute.Tanh:
		for i, v := range x {
			x[i] = 2/(1+math32.Exp(-2*v)) - 1
		}
	}
}

func (d *Device) SetArray(n int, value float32, data compute.Buffer) {
	x := d.floats(data)
	need("set array", len(x), n)
	for i := range x[:n] {
		x[i] = value
	}
}

func (d *Device) SetArrayRepeat(n int, value compute.Buffer, valueSize int, out compute.Buffer, offset int) {
	v, dst := d.floats(value), d.floats(out)
	need("repeat values", len(v), valueSize)
	need("repeat output", len(dst), offset+n*valueSize)
	for j := 0; j < valueSize; j++ {
		block := dst[offset+j*n:][:n]
		for i := range block {
			block[i] = v[j]
		}
	}
}

func (d *Device) Eltwise(n int, op compute.EltwiseOp, a compute.Buffer, coeffA float32, b compute.Buffer, coeffB float32, out compute.Buffer) {
	x, y, dst := d.floats(a), d.floats(b), d.floats(out)
	need("eltwise lhs", len(x), n)
	need("eltwise rhs", len(y), n)
	need("eltwise output", len(dst), n)
	switch op {
	case compute.EltwiseProd:
		for i := 0; i < n; i++ {
			dst[i] = x[i] * y[i]
		}
	case compute.EltwiseSum:
		for i := 0; i < n; i++ {
			dst[i] = coeffA*x[i] + coeffB*y[i]
		}
	case compute.EltwiseMax:
		for i := 0; i < n; i++ {
			dst[i] = max(x[i], y[i])
		}
	}
}
