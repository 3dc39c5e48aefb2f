package gpu

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/gpu/sim"
	"github.com/orneryd/tilegemm/pkg/matrix"
)

func newSoftwareAccelerator(t *testing.T, opts sim.Options) *Accelerator {
	t.Helper()
	accel, err := NewAccelerator(&Config{Backend: driver.BackendSoftware, Software: opts})
	require.NoError(t, err)
	t.Cleanup(accel.Release)
	return accel
}

func newTestLauncher(t *testing.T, opts LauncherOptions) *Launcher {
	t.Helper()
	accel := newSoftwareAccelerator(t, sim.Options{})
	l, err := NewLauncher(accel, opts)
	require.NoError(t, err)
	t.Cleanup(l.Release)
	return l
}

func TestNewLauncher(t *testing.T) {
	t.Run("tile zero uses device suggestion", func(t *testing.T) {
		l := newTestLauncher(t, LauncherOptions{})
		assert.Equal(t, driver.DefaultTileSize, l.Tile())
	})

	t.Run("explicit tile", func(t *testing.T) {
		l := newTestLauncher(t, LauncherOptions{TileSize: 8})
		assert.Equal(t, 8, l.Tile())
	})

	t.Run("negative tile", func(t *testing.T) {
		accel := newSoftwareAccelerator(t, sim.Options{})
		_, err := NewLauncher(accel, LauncherOptions{TileSize: -1})
		assert.Error(t, err)
	})

	t.Run("released accelerator", func(t *testing.T) {
		accel, err := NewAccelerator(&Config{Backend: driver.BackendSoftware})
		require.NoError(t, err)
		accel.Release()

		_, err = NewLauncher(accel, LauncherOptions{})
		assert.ErrorIs(t, err, driver.ErrDeviceInit)
	})
}

func TestMatMulMatchesReference(t *testing.T) {
	l := newTestLauncher(t, LauncherOptions{TileSize: 16})
	g := matrix.NewGenerator(42)

	for _, n := range []int{1, 16, 17, 32, 33, 48} {
		a, err := g.Random(n)
		require.NoError(t, err)
		b, err := g.Random(n)
		require.NoError(t, err)

		res, err := l.MatMul(a, b)
		require.NoError(t, err, "n=%d", n)

		want, err := matrix.Mul(a, b)
		require.NoError(t, err)
		assert.NoError(t, matrix.Compare(res.C, want, 1e-4), "n=%d", n)

		blas, err := matrix.MulBLAS(a, b)
		require.NoError(t, err)
		assert.NoError(t, matrix.Compare(res.C, blas, 1e-4), "n=%d against BLAS", n)

		grid := uint32(driver.CeilDiv(n, 16))
		assert.Equal(t, driver.Dim3{X: grid, Y: grid, Z: 1}, res.Launch.Grid)
		assert.Equal(t, driver.Dim3{X: 16, Y: 16, Z: 1}, res.Launch.Block)
	}
}

func TestMatMulAlgebraicCases(t *testing.T) {
	l := newTestLauncher(t, LauncherOptions{})

	t.Run("identity", func(t *testing.T) {
		a, err := matrix.NewGenerator(3).Random(33)
		require.NoError(t, err)
		id, err := matrix.Identity(33)
		require.NoError(t, err)

		res, err := l.MatMul(a, id)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(a, res.C), "A×I should equal A")
	})

	t.Run("zero", func(t *testing.T) {
		a, err := matrix.NewGenerator(4).Random(20)
		require.NoError(t, err)
		zero, err := matrix.New(20)
		require.NoError(t, err)

		res, err := l.MatMul(a, zero)
		require.NoError(t, err)
		for i, v := range res.C.Data {
			require.Zero(t, v, "element %d", i)
		}
	})

	t.Run("identity times twos", func(t *testing.T) {
		id, err := matrix.Identity(16)
		require.NoError(t, err)
		twos, err := matrix.Filled(16, 2)
		require.NoError(t, err)

		res, err := l.MatMul(id, twos)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(twos, res.C))
	})

	t.Run("ones across a partial tile", func(t *testing.T) {
		ones, err := matrix.Filled(17, 1)
		require.NoError(t, err)

		res, err := l.MatMul(ones, ones)
		require.NoError(t, err)
		for i, v := range res.C.Data {
			require.Equal(t, float32(17), v, "element %d", i)
		}
	})
}

func TestMatMulDeterministic(t *testing.T) {
	l := newTestLauncher(t, LauncherOptions{})
	g := matrix.NewGenerator(9)
	a, _ := g.Random(45)
	b, _ := g.Random(45)

	first, err := l.MatMul(a, b)
	require.NoError(t, err)
	second, err := l.MatMul(a, b)
	require.NoError(t, err)

	assert.Equal(t, first.C.Checksum(), second.C.Checksum())
	assert.True(t, matrix.Equal(first.C, second.C))
}

func TestMatMulResult(t *testing.T) {
	l := newTestLauncher(t, LauncherOptions{})
	a, _ := matrix.Filled(8, 1)

	res, err := l.MatMul(a, a)
	require.NoError(t, err)

	assert.Equal(t, driver.BackendSoftware, res.Backend)
	assert.NotEmpty(t, res.Device)
	assert.Equal(t, 16, res.Tile)
	assert.Positive(t, res.KernelTime)
	assert.GreaterOrEqual(t, res.TotalTime, res.KernelTime)

	stats := l.accel.Stats()
	assert.EqualValues(t, 1, stats.KernelLaunches)
	assert.EqualValues(t, 2*8*8*4, stats.BytesUploaded)
	assert.EqualValues(t, 8*8*4, stats.BytesDownloaded)
	assert.Equal(t, res.KernelTime, stats.KernelTime)
}

func TestResultGFLOPS(t *testing.T) {
	c, _ := matrix.New(10)
	res := &Result{C: c, KernelTime: time.Millisecond}
	assert.InDelta(t, 0.002, res.GFLOPS(), 1e-12)

	assert.Zero(t, (&Result{C: c}).GFLOPS())
	assert.Zero(t, (*Result)(nil).GFLOPS())
}

func TestMatMulReusesModule(t *testing.T) {
	l := newTestLauncher(t, LauncherOptions{})
	a, _ := matrix.Filled(4, 1)

	for i := 0; i < 3; i++ {
		_, err := l.MatMul(a, a)
		require.NoError(t, err)
	}

	stats := l.CacheStats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 2, stats.Hits)
	assert.Equal(t, 1, stats.Size)
}

func TestMatMulErrors(t *testing.T) {
	t.Run("shape mismatch", func(t *testing.T) {
		l := newTestLauncher(t, LauncherOptions{})
		a, _ := matrix.New(4)
		b, _ := matrix.New(5)

		_, err := l.MatMul(a, b)
		assert.ErrorIs(t, err, matrix.ErrShape)
	})

	t.Run("allocation over capacity", func(t *testing.T) {
		accel := newSoftwareAccelerator(t, sim.Options{MemoryBytes: 8 << 10})
		l, err := NewLauncher(accel, LauncherOptions{})
		require.NoError(t, err)
		defer l.Release()

		a, _ := matrix.New(32)
		_, err = l.MatMul(a, a)
		assert.ErrorIs(t, err, driver.ErrAllocation)

		dev := accel.Device().(*sim.Device)
		assert.Zero(t, dev.MemoryUsed(), "partial allocations should be released")
	})

	t.Run("block over device limit", func(t *testing.T) {
		l := newTestLauncher(t, LauncherOptions{TileSize: 64})
		a, _ := matrix.New(64)

		_, err := l.MatMul(a, a)
		assert.ErrorIs(t, err, driver.ErrLaunch)

		stats := l.accel.Stats()
		assert.EqualValues(t, 1, stats.KernelFailures)
	})

	t.Run("tile too large for shared memory", func(t *testing.T) {
		l := newTestLauncher(t, LauncherOptions{TileSize: 128})
		a, _ := matrix.New(4)

		_, err := l.MatMul(a, a)
		assert.ErrorIs(t, err, driver.ErrModuleLoad)
	})

	t.Run("after release", func(t *testing.T) {
		l := newTestLauncher(t, LauncherOptions{})
		l.Release()

		a, _ := matrix.New(4)
		_, err := l.MatMul(a, a)
		assert.ErrorIs(t, err, ErrReleased)
		_, err = l.Add([]float32{1}, []float32{2})
		assert.ErrorIs(t, err, ErrReleased)
	})
}

func TestMatMulBuffersReleased(t *testing.T) {
	accel := newSoftwareAccelerator(t, sim.Options{})
	l, err := NewLauncher(accel, LauncherOptions{})
	require.NoError(t, err)
	defer l.Release()

	a, _ := matrix.Filled(24, 1)
	_, err = l.MatMul(a, a)
	require.NoError(t, err)

	dev := accel.Device().(*sim.Device)
	assert.Zero(t, dev.MemoryUsed())
}

func TestMatMulLogsLaunchShape(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLauncher(t, LauncherOptions{Logger: zerolog.New(&buf)})

	a, _ := matrix.Filled(32, 1)
	_, err := l.MatMul(a, a)
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "using 4 blocks and 256 threads per block (1024 threads total)" {
			found = true
			assert.Equal(t, "software", entry["backend"])
			assert.EqualValues(t, 32, entry["n"])
			assert.EqualValues(t, 16, entry["tile"])
		}
	}
	assert.True(t, found, "launch shape not logged: %s", buf.String())
}

func TestAdd(t *testing.T) {
	l := newTestLauncher(t, LauncherOptions{})

	n := 1000
	a := make([]float32, n)
	b := make([]float32, n)
	for i := range a {
		a[i] = float32(i)
		b[i] = float32(2 * i)
	}

	c, err := l.Add(a, b)
	require.NoError(t, err)
	require.Len(t, c, n)
	for i, v := range c {
		require.Equal(t, float32(3*i), v, "element %d", i)
	}

	_, err = l.Add(a, b[:10])
	assert.ErrorIs(t, err, matrix.ErrShape)
	_, err = l.Add(nil, nil)
	assert.ErrorIs(t, err, matrix.ErrShape)
}

func BenchmarkLauncherMatMul(b *testing.B) {
	accel, err := NewAccelerator(&Config{Backend: driver.BackendSoftware})
	if err != nil {
		b.Fatal(err)
	}
	defer accel.Release()
	l, err := NewLauncher(accel, LauncherOptions{})
	if err != nil {
		b.Fatal(err)
	}
	defer l.Release()

	g := matrix.NewGenerator(1)
	x, _ := g.Random(128)
	y, _ := g.Random(128)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := l.MatMul(x, y); err != nil {
			b.Fatal(err)
		}
	}
}

func TestSelfCheck(t *testing.T) {
	for _, tile := range []int{16, 8} {
		l := newTestLauncher(t, LauncherOptions{TileSize: tile})
		checks := SelfCheck(l, 1)
		require.Len(t, checks, 11)
		for _, c := range checks {
			assert.True(t, c.Passed(), "tile %d: %s: %v", tile, c.Name, c.Err)
		}
	}
}
