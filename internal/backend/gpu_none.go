//go:build !cuda && !opencl

package backend

import (
	"errors"

	"github.com/samcharles93/shadow/internal/compute"
)

const gpuName = ""

var errNoGPU = errors.New("no gpu backend in this build (rebuild with -tags cuda or -tags opencl)")

func newGPU() (compute.Device, error) {
	return nil, errNoGPU
}
