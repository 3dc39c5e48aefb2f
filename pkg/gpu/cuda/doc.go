// Package cuda provides NVIDIA GPU compute using the CUDA driver API.
//
// This package requires:
//   - NVIDIA GPU with CUDA Compute Capability 3.5+
//   - CUDA Toolkit 11.0+ installed (libcuda and libnvrtc)
//
// Device implements driver.Device: buffers are cuMemAlloc allocations,
// modules are CUDA C compiled at load time with NVRTC (or prebuilt PTX
// loaded as is), and streams are CUDA streams. Kernel faults are reported
// by the driver at the next synchronization, so Stream.Synchronize is where
// they surface.
//
// Build Requirements:
//
// On Linux:
//   - Install CUDA Toolkit: https://developer.nvidia.com/cuda-downloads
//   - Set environment: export CUDA_HOME=/usr/local/cuda
//   - Ensure libnvrtc.so is in LD_LIBRARY_PATH
//
// On Windows:
//   - Install CUDA Toolkit from NVIDIA
//   - Visual Studio with C++ build tools
//   - CUDA_PATH environment variable set
//
// Build tags:
//   - Build with: go build -tags cuda
//   - Without CUDA: builds with stub implementations
//
// Example usage:
//
//	if cuda.IsAvailable() {
//	    device, err := cuda.NewDevice(0)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer device.Release()
//
//	    mod, err := device.LoadModule(kernels.Image(driver.BackendCUDA, 16))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer mod.Release()
//	}
package cuda
