//go:build cuda

package backend

import (
	"github.com/samcharles93/shadow/internal/backend/cuda"
	"github.com/samcharles93/shadow/internal/compute"
)

const gpuName = CUDA

func newGPU() (compute.Device, error) {
	return cuda.New()
}
