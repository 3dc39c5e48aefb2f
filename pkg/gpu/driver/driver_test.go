package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiledLaunch(t *testing.T) {
	tests := []struct {
		n, tile int
		grid    uint32
	}{
		{16, 16, 1},
		{17, 16, 2},
		{32, 16, 2},
		{33, 16, 3},
		{1024, 16, 64},
		{1, 16, 1},
		{10, 4, 3},
	}
	for _, tt := range tests {
		cfg := TiledLaunch(tt.n, tt.tile)
		assert.Equal(t, Dim3{X: tt.grid, Y: tt.grid, Z: 1}, cfg.Grid, "n=%d tile=%d", tt.n, tt.tile)
		assert.Equal(t, Dim3{X: uint32(tt.tile), Y: uint32(tt.tile), Z: 1}, cfg.Block)
		assert.GreaterOrEqual(t, uint64(cfg.Grid.X)*uint64(cfg.Block.X), uint64(tt.n))
	}
}

func TestLinearLaunch(t *testing.T) {
	cfg := LinearLaunch(1000, 256)
	assert.Equal(t, Dim3{X: 4, Y: 1, Z: 1}, cfg.Grid)
	assert.Equal(t, Dim3{X: 256, Y: 1, Z: 1}, cfg.Block)
	assert.Equal(t, uint64(1024), cfg.Threads())
}

func TestLaunchConfigValidate(t *testing.T) {
	limits := DefaultLimits()

	t.Run("valid tiled launch", func(t *testing.T) {
		require.NoError(t, TiledLaunch(1024, 16).Validate(BackendSoftware, limits))
	})

	t.Run("zero grid", func(t *testing.T) {
		err := TiledLaunch(0, 16).Validate(BackendSoftware, limits)
		assert.ErrorIs(t, err, ErrLaunch)
	})

	t.Run("zero block", func(t *testing.T) {
		err := LaunchConfig{Grid: Dim3{1, 1, 1}}.Validate(BackendSoftware, limits)
		assert.ErrorIs(t, err, ErrLaunch)
	})

	t.Run("too many threads per block", func(t *testing.T) {
		err := TiledLaunch(64, 64).Validate(BackendSoftware, limits)
		assert.ErrorIs(t, err, ErrLaunch)
	})

	t.Run("block axis over limit", func(t *testing.T) {
		cfg := LaunchConfig{Grid: Dim3{1, 1, 1}, Block: Dim3{1, 1, 128}}
		assert.ErrorIs(t, cfg.Validate(BackendSoftware, limits), ErrLaunch)
	})

	t.Run("shared memory over limit", func(t *testing.T) {
		cfg := TiledLaunch(16, 16)
		cfg.SharedBytes = limits.MaxSharedBytes + 1
		assert.ErrorIs(t, cfg.Validate(BackendSoftware, limits), ErrLaunch)
	})
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("out of memory")
	err := Wrap(BackendCUDA, ErrAllocation, "alloc", cause)

	assert.ErrorIs(t, err, ErrAllocation)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTransfer)
	assert.Equal(t, ErrAllocation, Kind(err))
	assert.Equal(t, "cuda: alloc: device allocation failed: out of memory", err.Error())

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, BackendCUDA, derr.Backend)

	assert.Nil(t, Wrap(BackendCUDA, ErrAllocation, "alloc", nil))
	assert.Nil(t, Kind(cause))
}

func TestModuleImageEntries(t *testing.T) {
	t.Run("cuda", func(t *testing.T) {
		img := ModuleImage{Format: FormatCUDA, Source: `
extern "C" __global__ void add(const float* a) {}
// __global__ void commented_out(int x) {}
extern "C" __global__ void matmul_tiled(const float* a, const float* b) {}
`}
		assert.Equal(t, []string{"add", "matmul_tiled"}, img.Entries())
	})

	t.Run("ptx", func(t *testing.T) {
		img := ModuleImage{Format: FormatPTX, Source: ".visible .entry matmul_tiled(\n.param .u64 a\n)"}
		assert.Equal(t, []string{"matmul_tiled"}, img.Entries())
	})

	t.Run("opencl", func(t *testing.T) {
		img := ModuleImage{Format: FormatOpenCL, Source: "__kernel void add(__global const float* a) {}"}
		assert.Equal(t, []string{"add"}, img.Entries())
	})

	t.Run("no entries", func(t *testing.T) {
		assert.Empty(t, ModuleImage{Format: FormatCUDA, Source: "int x;"}.Entries())
	})
}

func TestModuleImageDefine(t *testing.T) {
	img := ModuleImage{Options: []string{"-DTILE_SZ=32", "-O3"}}
	v, ok := img.Define("TILE_SZ")
	assert.True(t, ok)
	assert.Equal(t, "32", v)

	_, ok = img.Define("MISSING")
	assert.False(t, ok)
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{
		"":         BackendNone,
		"auto":     BackendNone,
		"software": BackendSoftware,
		"cpu":      BackendSoftware,
		"cuda":     BackendCUDA,
		"opencl":   BackendOpenCL,
	} {
		got, ok := ParseBackend(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseBackend("metal")
	assert.False(t, ok)
}
