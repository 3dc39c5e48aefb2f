//go:build !opencl
// +build !opencl

package opencl

import (
	"errors"
	"testing"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/gpu/kernels"
)

var _ driver.Device = (*Device)(nil)

func TestIsAvailableStub(t *testing.T) {
	if IsAvailable() {
		t.Error("IsAvailable() should return false on stub")
	}
}

func TestDeviceCountStub(t *testing.T) {
	if DeviceCount() != 0 {
		t.Error("DeviceCount() should return 0 on stub")
	}
}

func TestNewDeviceStub(t *testing.T) {
	device, err := NewDevice(0)
	if !errors.Is(err, ErrOpenCLNotAvailable) {
		t.Errorf("NewDevice() error = %v, want ErrOpenCLNotAvailable", err)
	}
	if !errors.Is(err, driver.ErrDeviceInit) {
		t.Errorf("NewDevice() error = %v, want ErrDeviceInit", err)
	}
	if device != nil {
		t.Error("NewDevice() should return nil device on stub")
	}
}

func TestDeviceMethodsStub(t *testing.T) {
	var device Device

	device.Release()

	if device.Backend() != driver.BackendOpenCL {
		t.Errorf("Backend() = %s, want opencl", device.Backend())
	}
	if device.ID() != 0 {
		t.Error("ID() should return 0")
	}
	if device.Name() != "" {
		t.Error("Name() should return empty string")
	}
	if device.Vendor() != "" {
		t.Error("Vendor() should return empty string")
	}
	if device.MemoryBytes() != 0 {
		t.Error("MemoryBytes() should return 0")
	}
	if device.MemoryMB() != 0 {
		t.Error("MemoryMB() should return 0")
	}
}

func TestOperationsStub(t *testing.T) {
	var device Device

	if _, err := device.Alloc(16); !errors.Is(err, driver.ErrAllocation) {
		t.Errorf("Alloc() error = %v, want ErrAllocation", err)
	}
	if _, err := device.LoadModule(kernels.Image(driver.BackendOpenCL, 16)); !errors.Is(err, driver.ErrModuleLoad) {
		t.Errorf("LoadModule() error = %v, want ErrModuleLoad", err)
	}
	if _, err := device.NewStream(); !errors.Is(err, driver.ErrDeviceInit) {
		t.Errorf("NewStream() error = %v, want ErrDeviceInit", err)
	}
}
