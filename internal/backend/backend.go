// Package backend owns the process-wide device context.
//
// Exactly one compute.Device is active at a time. Host is always compiled
// in; a build tag adds at most one GPU backend (cuda or opencl). Setup must
// run before any buffer is allocated and Release after the last one is
// freed. That ordering is the caller's job; nothing here reference-counts
// buffers.
package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samcharles93/shadow/internal/backend/host"
	"github.com/samcharles93/shadow/internal/check"
	"github.com/samcharles93/shadow/internal/compute"
)

const (
	Host   = "host"
	CUDA   = "cuda"
	OpenCL = "opencl"
	Auto   = "auto"
)

var state struct {
	mu       sync.Mutex
	dev      compute.Device
	deviceID int
}

// Normalize maps a user supplied backend name to one of the constants above.
// "cpu" is accepted as an alias of host.
func Normalize(name string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(name))
	switch b {
	case "":
		return Auto, nil
	case "cpu":
		return Host, nil
	case Host, CUDA, OpenCL, Auto:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, host, cuda, or opencl)", name)
	}
}

// Resolve turns a normalized name into the backend that will actually run.
// Auto prefers the GPU backend compiled into this build.
func Resolve(name string) (string, error) {
	b, err := Normalize(name)
	if err != nil {
		return "", err
	}
	if b == Auto {
		if gpuName != "" {
			return gpuName, nil
		}
		return Host, nil
	}
	if !Has(b) {
		return "", fmt.Errorf("%s backend is not available in this build (available: %s)", b, Available())
	}
	return b, nil
}

func newDevice(name string) (compute.Device, error) {
	if name == Host {
		return host.New(), nil
	}
	return newGPU()
}

// Setup creates and initializes the named backend and makes it the active
// device. Calling Setup while a device is live is fatal.
func Setup(name string, deviceID int) compute.Device {
	resolved, err := Resolve(name)
	if err != nil {
		check.Failf(check.ConfigurationError, "%v", err)
	}
	dev, err := newDevice(resolved)
	check.Device(err, "create "+resolved+" backend")
	Install(dev, deviceID)
	return dev
}

// Install runs dev.Setup and makes dev the active device. It lets callers
// supply a pre-configured implementation.
func Install(dev compute.Device, deviceID int) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.dev != nil {
		check.Failf(check.DeviceError, "device context already set up (%s:%d)", state.dev.Name(), state.deviceID)
	}
	check.Device(dev.Setup(deviceID), "setup "+dev.Name()+" backend")
	state.dev = dev
	state.deviceID = deviceID
}

// Release tears down the active device. It is a no-op when nothing is set up.
func Release() {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.dev == nil {
		return
	}
	state.dev.Release()
	state.dev = nil
	state.deviceID = 0
}

// Active returns the live device. Using buffers without a live context is a
// fatal DeviceError; the context is never created lazily.
func Active() compute.Device {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.dev == nil {
		check.Failf(check.DeviceError, "no device context: backend.Setup has not been called")
	}
	return state.dev
}

// Live reports whether a device context is set up.
func Live() bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.dev != nil
}
