//go:build opencl && !cuda

package backend

import (
	"github.com/samcharles93/shadow/internal/backend/opencl"
	"github.com/samcharles93/shadow/internal/compute"
)

const gpuName = OpenCL

func newGPU() (compute.Device, error) {
	return opencl.New()
}
