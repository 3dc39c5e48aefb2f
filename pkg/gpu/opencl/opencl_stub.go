//go:build !opencl
// +build !opencl

// Package opencl provides cross-platform GPU acceleration using OpenCL.
// This is a stub implementation for systems without OpenCL support.
package opencl

import (
	"errors"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

const backend = driver.BackendOpenCL

// ErrOpenCLNotAvailable is returned by NewDevice when the package is built
// without OpenCL.
var ErrOpenCLNotAvailable = errors.New("opencl: OpenCL is not available (build without opencl tag)")

func unavailable(kind error, op string) error {
	return driver.Wrap(backend, kind, op, ErrOpenCLNotAvailable)
}

// Device represents an OpenCL GPU device (stub).
type Device struct{}

// IsAvailable returns false on systems without OpenCL.
func IsAvailable() bool {
	return false
}

// DeviceCount returns 0 on systems without OpenCL.
func DeviceCount() int {
	return 0
}

// NewDevice returns an error on systems without OpenCL.
func NewDevice(deviceID int) (*Device, error) {
	return nil, unavailable(driver.ErrDeviceInit, "open")
}

// Release is a no-op stub.
func (d *Device) Release() {}

// Backend returns driver.BackendOpenCL.
func (d *Device) Backend() driver.Backend { return backend }

// ID returns 0.
func (d *Device) ID() int { return 0 }

// Name returns empty string.
func (d *Device) Name() string { return "" }

// Vendor returns empty string.
func (d *Device) Vendor() string { return "" }

// MemoryBytes returns 0.
func (d *Device) MemoryBytes() uint64 { return 0 }

// MemoryMB returns 0.
func (d *Device) MemoryMB() int { return 0 }

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
