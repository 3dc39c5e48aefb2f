//go:build cuda && (linux || windows)
// +build cuda
// +build linux windows

package cuda

import (
	"errors"
	"testing"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/gpu/kernels"
	"github.com/orneryd/tilegemm/pkg/matrix"
)

var _ driver.Device = (*Device)(nil)

func TestIsAvailable(t *testing.T) {
	// This test runs on systems with CUDA
	// IsAvailable should return true or false based on actual hardware
	available := IsAvailable()
	t.Logf("CUDA available: %v", available)
}

func TestDeviceCount(t *testing.T) {
	count := DeviceCount()
	t.Logf("CUDA device count: %d", count)

	if IsAvailable() && count == 0 {
		t.Error("CUDA is available but device count is 0")
	}
	if !IsAvailable() && count > 0 {
		t.Error("CUDA not available but device count > 0")
	}
}

func openDevice(t testing.TB) *Device {
	t.Helper()
	if !IsAvailable() {
		t.Skip("CUDA not available")
	}
	device, err := NewDevice(0)
	if err != nil {
		t.Fatalf("NewDevice(0) failed: %v", err)
	}
	t.Cleanup(device.Release)
	return device
}

func TestNewDevice(t *testing.T) {
	device := openDevice(t)

	if device.ID() != 0 {
		t.Errorf("Device ID = %d, want 0", device.ID())
	}
	if device.Name() == "" {
		t.Error("Device name is empty")
	}
	t.Logf("Device name: %s", device.Name())

	if device.MemoryBytes() == 0 {
		t.Error("Device memory is 0")
	}
	t.Logf("Device memory: %d MB", device.MemoryMB())

	major, minor := device.ComputeCapability()
	if major == 0 {
		t.Error("Compute capability major is 0")
	}
	t.Logf("Compute capability: %d.%d", major, minor)

	if device.Limits().MaxThreadsPerBlock < 256 {
		t.Errorf("MaxThreadsPerBlock = %d, want >= 256", device.Limits().MaxThreadsPerBlock)
	}
	if device.SuggestedBlockEdge() != driver.DefaultTileSize {
		t.Errorf("SuggestedBlockEdge() = %d, want %d", device.SuggestedBlockEdge(), driver.DefaultTileSize)
	}
}

func TestNewDeviceInvalidID(t *testing.T) {
	if !IsAvailable() {
		t.Skip("CUDA not available")
	}

	_, err := NewDevice(999)
	if !errors.Is(err, driver.ErrDeviceInit) {
		t.Errorf("NewDevice(999) error = %v, want ErrDeviceInit", err)
	}
}

func TestDeviceDoubleRelease(t *testing.T) {
	if !IsAvailable() {
		t.Skip("CUDA not available")
	}

	device, err := NewDevice(0)
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}

	// First release should work
	device.Release()

	// Second release should not panic
	device.Release()
}

func TestBufferRoundTrip(t *testing.T) {
	device := openDevice(t)

	buffer, err := device.Alloc(5)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer buffer.Release()

	zeros := make([]float32, 5)
	if err := buffer.CopyToHost(zeros); err != nil {
		t.Fatal(err)
	}
	for i, v := range zeros {
		if v != 0 {
			t.Errorf("fresh buffer[%d] = %f, want 0", i, v)
		}
	}

	data := []float32{1.0, 2.0, 3.0, 4.0, 5.0}
	if err := buffer.CopyFromHost(data); err != nil {
		t.Fatalf("CopyFromHost failed: %v", err)
	}
	result := make([]float32, len(data))
	if err := buffer.CopyToHost(result); err != nil {
		t.Fatalf("CopyToHost failed: %v", err)
	}
	for i, v := range result {
		if v != data[i] {
			t.Errorf("result[%d] = %f, want %f", i, v, data[i])
		}
	}

	if err := buffer.CopyFromHost(make([]float32, 6)); !errors.Is(err, driver.ErrTransfer) {
		t.Errorf("oversized copy error = %v, want ErrTransfer", err)
	}
}

func TestAllocTooLarge(t *testing.T) {
	device := openDevice(t)

	_, err := device.Alloc(int(device.MemoryBytes()/4) + 1<<28)
	if !errors.Is(err, driver.ErrAllocation) {
		t.Errorf("Alloc beyond device memory error = %v, want ErrAllocation", err)
	}
}

func TestCompileErrorIsModuleLoadError(t *testing.T) {
	device := openDevice(t)

	_, err := device.LoadModule(driver.ModuleImage{
		Name:   "broken.cu",
		Format: driver.FormatCUDA,
		Source: `extern "C" __global__ void broken(float* a) { this is not C }`,
	})
	if !errors.Is(err, driver.ErrModuleLoad) {
		t.Errorf("LoadModule() error = %v, want ErrModuleLoad", err)
	}
}

func TestMatMulTiled(t *testing.T) {
	device := openDevice(t)

	mod, err := device.LoadModule(kernels.Image(driver.BackendCUDA, 16))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	defer mod.Release()

	fn, err := mod.Function(kernels.MatMulTiled)
	if err != nil {
		t.Fatal(err)
	}

	g := matrix.NewGenerator(5)
	for _, n := range []int{16, 17, 32, 33} {
		a, _ := g.Random(n)
		b, _ := g.Random(n)
		c := runMatMul(t, device, fn, a, b)

		want, _ := matrix.Mul(a, b)
		if err := matrix.Compare(c, want, 1e-4); err != nil {
			t.Errorf("n=%d: %v", n, err)
		}
	}
}

func runMatMul(t testing.TB, device *Device, fn driver.Function, a, b *matrix.Matrix) *matrix.Matrix {
	t.Helper()
	n := a.N

	bufs := make([]driver.Buffer, 3)
	for i := range bufs {
		buf, err := device.Alloc(n * n)
		if err != nil {
			t.Fatalf("Alloc failed: %v", err)
		}
		defer buf.Release()
		bufs[i] = buf
	}
	if err := bufs[0].CopyFromHost(a.Data); err != nil {
		t.Fatal(err)
	}
	if err := bufs[1].CopyFromHost(b.Data); err != nil {
		t.Fatal(err)
	}

	stream, err := device.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Release()

	if err := fn.Launch(stream, driver.TiledLaunch(n, 16), bufs[0], bufs[1], bufs[2], uint32(n)); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := stream.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	c, _ := matrix.New(n)
	if err := bufs[2].CopyToHost(c.Data); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLaunchRejectsOversizedBlock(t *testing.T) {
	device := openDevice(t)

	mod, err := device.LoadModule(kernels.Image(driver.BackendCUDA, 16))
	if err != nil {
		t.Fatal(err)
	}
	defer mod.Release()
	fn, _ := mod.Function(kernels.MatMulTiled)

	stream, err := device.NewStream()
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Release()

	buf, err := device.Alloc(64 * 64)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	err = fn.Launch(stream, driver.TiledLaunch(64, 64), buf, buf, buf, uint32(64))
	if !errors.Is(err, driver.ErrLaunch) {
		t.Errorf("Launch with 64x64 block error = %v, want ErrLaunch", err)
	}
}

func BenchmarkMatMulTiled(b *testing.B) {
	device := openDevice(b)

	mod, err := device.LoadModule(kernels.Image(driver.BackendCUDA, 16))
	if err != nil {
		b.Fatal(err)
	}
	defer mod.Release()
	fn, _ := mod.Function(kernels.MatMulTiled)

	const n = 1024
	bufs := make([]driver.Buffer, 3)
	for i := range bufs {
		bufs[i], err = device.Alloc(n * n)
		if err != nil {
			b.Fatal(err)
		}
		defer bufs[i].Release()
	}
	stream, _ := device.NewStream()
	defer stream.Release()

	cfg := driver.TiledLaunch(n, 16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := fn.Launch(stream, cfg, bufs[0], bufs[1], bufs[2], uint32(n)); err != nil {
			b.Fatal(err)
		}
		if err := stream.Synchronize(); err != nil {
			b.Fatal(err)
		}
	}
}
