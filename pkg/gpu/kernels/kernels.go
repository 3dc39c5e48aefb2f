// Package kernels ships the device code for the tiled matrix multiplication
// and element-wise add kernels.
//
// The CUDA C source is compiled to PTX at module load (or replaced by a
// prebuilt PTX file), the OpenCL C source is built by the OpenCL runtime, and
// the software device binds the entry points declared in the CUDA C source to
// its Go implementations.
package kernels

import (
	_ "embed"
	"fmt"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

// Entry point names.
const (
	Add         = "add"
	MatMulTiled = "matmul_tiled"
)

//go:embed tiled.cu
var cudaSource string

//go:embed tiled.cl
var openclSource string

// CUDASource returns the embedded CUDA C source.
func CUDASource() string { return cudaSource }

// OpenCLSource returns the embedded OpenCL C source.
func OpenCLSource() string { return openclSource }

// Image returns the module image a backend should load for the given tile
// edge.
func Image(backend driver.Backend, tile int) driver.ModuleImage {
	opts := []string{fmt.Sprintf("-DTILE_SZ=%d", tile)}
	if backend == driver.BackendOpenCL {
		return driver.ModuleImage{
			Name:    "tiled.cl",
			Format:  driver.FormatOpenCL,
			Source:  openclSource,
			Options: opts,
		}
	}
	return driver.ModuleImage{
		Name:    "tiled.cu",
		Format:  driver.FormatCUDA,
		Source:  cudaSource,
		Options: opts,
	}
}

// PTXImage wraps prebuilt PTX. The tile edge is recorded so the launcher
// can check it against the block shape; the PTX itself was compiled with it.
func PTXImage(name, ptx string, tile int) driver.ModuleImage {
	return driver.ModuleImage{
		Name:    name,
		Format:  driver.FormatPTX,
		Source:  ptx,
		Options: []string{fmt.Sprintf("-DTILE_SZ=%d", tile)},
	}
}
