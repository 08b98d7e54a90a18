package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/shadow/internal/backend"
	"github.com/samcharles93/shadow/internal/blob"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/workspace"
)

func setup(t *testing.T) *workspace.Workspace {
	t.Helper()
	backend.Release()
	backend.Setup(backend.Host, 0)
	ws := workspace.New()
	t.Cleanup(func() {
		ws.Release()
		backend.Release()
	})
	return ws
}

func input(ws *workspace.Workspace, name string, data []float32, shape ...int) *blob.Blob {
	b := ws.CreateBlob(name, shape...)
	b.SetData(data)
	return b
}

func build(desc Desc, ws *workspace.Workspace) Layer {
	l := New(desc, ws)
	l.Reshape()
	return l
}

// seq is a deterministic, sign-varying fill.
func seq(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*7)%11-5) * scale
	}
	return out
}

func requireKind(t *testing.T, want check.Kind, fn func()) {
	t.Helper()
	err := check.Catch(fn)
	require.Error(t, err)
	kind, ok := check.KindOf(err)
	require.True(t, ok, "not a fatal engine error: %v", err)
	assert.Equal(t, want, kind, err.Error())
}

func naiveConv(in []float32, n, c, h, w int, filters, biases []float32, outC, k, stride, pad int) []float32 {
	outH := (h+2*pad-k)/stride + 1
	outW := (w+2*pad-k)/stride + 1
	out := make([]float32, n*outC*outH*outW)
	for b := 0; b < n; b++ {
		for o := 0; o < outC; o++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					var sum float32
					if biases != nil {
						sum = biases[o]
					}
					for ch := 0; ch < c; ch++ {
						for kh := 0; kh < k; kh++ {
							for kw := 0; kw < k; kw++ {
								ih, iw := oh*stride-pad+kh, ow*stride-pad+kw
								if ih < 0 || ih >= h || iw < 0 || iw >= w {
									continue
								}
								sum += in[((b*c+ch)*h+ih)*w+iw] * filters[((o*c+ch)*k+kh)*k+kw]
							}
						}
					}
					out[((b*outC+o)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}
	return out
}
