// Package opencl provides cross-platform GPU acceleration using OpenCL.
//
// This package implements the driver.Device interface on OpenCL, which
// provides cross-platform support for AMD, Intel, and NVIDIA GPUs. Kernel
// modules are OpenCL C, built by the OpenCL runtime at load time.
//
// # Requirements
//
// For AMD GPUs on Linux:
//   - ROCm (Radeon Open Compute): https://rocm.docs.amd.com/
//   - Or AMD GPU drivers with OpenCL support
//
// For AMD GPUs on Windows:
//   - AMD Adrenalin drivers with OpenCL support
//
// For Intel GPUs:
//   - Intel oneAPI or Intel OpenCL runtime
//
// For NVIDIA GPUs (alternative to CUDA):
//   - NVIDIA drivers with OpenCL support
//
// # Build Tags
//
// This package is only compiled when the "opencl" build tag is present:
//
//	go build -tags opencl
//
// # Environment Variables
//
// Linux (AMD ROCm):
//
//	export LD_LIBRARY_PATH=/opt/rocm/opencl/lib:$LD_LIBRARY_PATH
//
// macOS (via Homebrew):
//
//	Note: macOS deprecated OpenCL in favor of Metal. Use Metal backend instead.
//
// Windows:
//
//	OpenCL drivers are typically included with GPU drivers.
//
// # Architecture
//
// The OpenCL backend uses:
//   - OpenCL 1.2 or later (clEnqueueFillBuffer zeroes new buffers)
//   - One context and a transfer queue per device, one queue per stream
//   - Blocking host transfers on the transfer queue
//   - CUDA-style launch shapes mapped onto NDRanges: global size is
//     grid×block per axis, local size is the block
//
// # Performance Considerations
//
// OpenCL performance varies by vendor and driver:
//   - AMD GPUs: Excellent performance with ROCm drivers
//   - Intel GPUs: Good for integrated graphics, limited VRAM
//   - NVIDIA: Prefer CUDA for best performance on NVIDIA hardware
//
// Local memory is small on some integrated GPUs; SuggestedBlockEdge halves
// the tile edge until two tiles fit.
//
// # Example
//
// Basic usage:
//
//	device, err := opencl.NewDevice(0) // First OpenCL device
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer device.Release()
//
//	mod, err := device.LoadModule(kernels.Image(driver.BackendOpenCL, 16))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Release()
//
//	fn, _ := mod.Function(kernels.MatMulTiled)
//	stream, _ := device.NewStream()
//	defer stream.Release()
//
//	err = fn.Launch(stream, driver.TiledLaunch(n, 16), a, b, c, uint32(n))
//	if err == nil {
//	    err = stream.Synchronize()
//	}
package opencl
