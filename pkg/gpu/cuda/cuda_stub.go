//go:build !cuda || !(linux || windows)
// +build !cuda !linux,!windows

// Package cuda provides NVIDIA GPU acceleration using CUDA.
// This is a stub implementation for systems without CUDA support.
package cuda

import (
	"errors"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

const backend = driver.BackendCUDA

// ErrCUDANotAvailable is returned by NewDevice when the package is built
// without CUDA.
var ErrCUDANotAvailable = errors.New("cuda: CUDA is not available (build without cuda tag or unsupported platform)")

func unavailable(kind error, op string) error {
	return driver.Wrap(backend, kind, op, ErrCUDANotAvailable)
}

// Device represents a CUDA GPU device (stub).
type Device struct{}

// IsAvailable returns false on systems without CUDA.
func IsAvailable() bool {
	return false
}

// DeviceCount returns 0 on systems without CUDA.
func DeviceCount() int {
	return 0
}

// NewDevice returns an error on systems without CUDA.
func NewDevice(deviceID int) (*Device, error) {
	return nil, unavailable(driver.ErrDeviceInit, "open")
}

// Release is a no-op stub.
func (d *Device) Release() {}

// Backend returns driver.BackendCUDA.
func (d *Device) Backend() driver.Backend { return backend }

// ID returns 0.
func (d *Device) ID() int { return 0 }

// Name returns empty string.
func (d *Device) Name() string { return "" }

// MemoryBytes returns 0.
func (d *Device) MemoryBytes() uint64 { return 0 }

// MemoryMB returns 0.
func (d *Device) MemoryMB() int { return 0 }

// ComputeCapability returns 0, 0.
func (d *Device) ComputeCapability() (int, int) { return 0, 0 }

// Limits returns the zero Limits.
func (d *Device) Limits() driver.Limits { return driver.Limits{} }

// SuggestedBlockEdge returns the default tile edge.
func (d *Device) SuggestedBlockEdge() int { return driver.DefaultTileSize }

// Alloc returns an error.
func (d *Device) Alloc(count int) (driver.Buffer, error) {
	return nil, unavailable(driver.ErrAllocation, "alloc")
}

// LoadModule returns an error.
func (d *Device) LoadModule(img driver.ModuleImage) (driver.Module, error) {
	return nil, unavailable(driver.ErrModuleLoad, "load module")
}

// NewStream returns an error.
func (d *Device) NewStream() (driver.Stream, error) {
	return nil, unavailable(driver.ErrDeviceInit, "stream")
}
