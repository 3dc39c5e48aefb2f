package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/tilegemm/pkg/cache"
	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/gpu/kernels"
	"github.com/orneryd/tilegemm/pkg/matrix"
)

// AddThreadsPerBlock is the 1-D block size of the add kernel.
const AddThreadsPerBlock = 256

// ErrReleased is returned by a Launcher after Release.
var ErrReleased = errors.New("gpu: launcher released")

// LauncherOptions configures a Launcher.
type LauncherOptions struct {
	// TileSize is the shared-memory tile edge and the 2-D block edge.
	// Zero asks the device for a suggested edge.
	TileSize int

	// PTX replaces the embedded CUDA C source with prebuilt PTX. It must
	// have been compiled with TileSize. Ignored on other backends.
	PTX string

	// ModuleCacheSize bounds the number of loaded modules kept. Zero uses
	// the cache default.
	ModuleCacheSize int

	Logger zerolog.Logger
}

// Launcher runs kernels on an Accelerator's device.
//
// A Launcher serializes its calls; every call owns its device buffers from
// allocation to release.
type Launcher struct {
	accel   *Accelerator
	log     zerolog.Logger
	tile    int
	ptx     string
	modules *cache.ModuleCache

	mu       sync.Mutex
	stream   driver.Stream
	released bool
}

// Result is the outcome of one MatMul.
type Result struct {
	C *matrix.Matrix

	// KernelTime spans launch to synchronize.
	KernelTime time.Duration
	// TotalTime spans module lookup to the last buffer release.
	TotalTime time.Duration

	Launch  driver.LaunchConfig
	Tile    int
	Backend driver.Backend
	Device  string
}

// GFLOPS returns 2·N³ floating point operations over the kernel time.
func (r *Result) GFLOPS() float64 {
	if r == nil || r.C == nil || r.KernelTime <= 0 {
		return 0
	}
	n := float64(r.C.N)
	return 2 * n * n * n / r.KernelTime.Seconds() / 1e9
}

// NewLauncher creates a launcher on accel's device.
func NewLauncher(accel *Accelerator, opts LauncherOptions) (*Launcher, error) {
	if accel == nil || accel.Device() == nil {
		return nil, driver.Errorf(driver.BackendNone, driver.ErrDeviceInit, "launcher", "no open device")
	}
	if opts.TileSize < 0 {
		return nil, fmt.Errorf("gpu: tile size %d is negative", opts.TileSize)
	}

	tile := opts.TileSize
	if tile == 0 {
		tile = accel.Device().SuggestedBlockEdge()
	}

	l := &Launcher{
		accel:   accel,
		log:     opts.Logger.With().Str("backend", accel.Backend().String()).Int("tile", tile).Logger(),
		tile:    tile,
		ptx:     opts.PTX,
		modules: cache.NewModuleCache(opts.ModuleCacheSize, 0),
	}
	return l, nil
}

// Tile returns the tile edge in use.
func (l *Launcher) Tile() int {
	return l.tile
}

// CacheStats returns module cache statistics.
func (l *Launcher) CacheStats() cache.CacheStats {
	return l.modules.Stats()
}

func (l *Launcher) image() driver.ModuleImage {
	backend := l.accel.Backend()
	if l.ptx != "" && backend == driver.BackendCUDA {
		return kernels.PTXImage("matmul.ptx", l.ptx, l.tile)
	}
	return kernels.Image(backend, l.tile)
}

// function resolves an entry point. The returned release func must be
// called once the launch has been synchronized.
func (l *Launcher) function(name string) (driver.Function, func(), error) {
	dev := l.accel.Device()
	img := l.image()

	mod, owned, err := l.modules.GetOrLoad(cache.Key(dev.Backend(), img), func() (driver.Module, error) {
		l.log.Debug().Str("module", img.Name).Str("format", img.Format.String()).Msg("loading module")
		return dev.LoadModule(img)
	})
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if owned {
		release = mod.Release
	}

	fn, err := mod.Function(name)
	if err != nil {
		release()
		return nil, nil, err
	}
	return fn, release, nil
}

func (l *Launcher) streamLocked() (driver.Stream, error) {
	if l.stream != nil {
		return l.stream, nil
	}
	s, err := l.accel.Device().NewStream()
	if err != nil {
		return nil, err
	}
	l.stream = s
	return s, nil
}

// alloc allocates count buffers of n elements each. On failure the buffers
// already allocated are released.
func (l *Launcher) alloc(count, n int) ([]driver.Buffer, error) {
	dev := l.accel.Device()
	bufs := make([]driver.Buffer, 0, count)
	for i := 0; i < count; i++ {
		buf, err := dev.Alloc(n)
		if err != nil {
			releaseAll(bufs)
			return nil, err
		}
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

func releaseAll(bufs []driver.Buffer) {
	for _, b := range bufs {
		b.Release()
	}
}

func (l *Launcher) upload(buf driver.Buffer, src []float32, what string) error {
	if err := buf.CopyFromHost(src); err != nil {
		return fmt.Errorf("copy %s to device: %w", what, err)
	}
	l.accel.recordUpload(4 * len(src))
	return nil
}

func (l *Launcher) download(buf driver.Buffer, dst []float32, what string) error {
	if err := buf.CopyToHost(dst); err != nil {
		return fmt.Errorf("copy %s to host: %w", what, err)
	}
	l.accel.recordDownload(4 * len(dst))
	return nil
}

// run launches fn and waits for it. The elapsed time covers both.
func (l *Launcher) run(stream driver.Stream, fn driver.Function, cfg driver.LaunchConfig, args ...any) (time.Duration, error) {
	start := time.Now()
	err := fn.Launch(stream, cfg, args...)
	if err == nil {
		err = stream.Synchronize()
	}
	elapsed := time.Since(start)
	l.accel.recordLaunch(elapsed, err)
	return elapsed, err
}

// MatMul computes C = A×B on the device.
//
// Errors wrap the driver taxonomy (driver.ErrModuleLoad, ErrAllocation,
// ErrTransfer, ErrLaunch) or matrix.ErrShape. No partial result is returned.
func (l *Launcher) MatMul(a, b *matrix.Matrix) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, ErrReleased
	}

	start := time.Now()

	fn, releaseModule, err := l.function(kernels.MatMulTiled)
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	defer releaseModule()

	if err := matrix.Conform(a, b); err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	n := a.N

	bufs, err := l.alloc(3, n*n)
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	defer releaseAll(bufs)
	dA, dB, dC := bufs[0], bufs[1], bufs[2]

	if err := l.upload(dA, a.Data, "A"); err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	if err := l.upload(dB, b.Data, "B"); err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}

	stream, err := l.streamLocked()
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}

	cfg := driver.TiledLaunch(n, l.tile)
	l.log.Info().
		Int("n", n).
		Str("grid", cfg.Grid.String()).
		Str("block", cfg.Block.String()).
		Msgf("using %d blocks and %d threads per block (%d threads total)",
			cfg.Blocks(), cfg.ThreadsPerBlock(), cfg.Threads())

	kernelTime, err := l.run(stream, fn, cfg, dA, dB, dC, uint32(n))
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}

	c, err := matrix.New(n)
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	if err := l.download(dC, c.Data, "C"); err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}

	res := &Result{
		C:          c,
		KernelTime: kernelTime,
		Launch:     cfg,
		Tile:       l.tile,
		Backend:    l.accel.Backend(),
		Device:     l.accel.DeviceName(),
	}
	res.TotalTime = time.Since(start)

	l.log.Debug().
		Int("n", n).
		Float64("kernel_ms", float64(kernelTime.Microseconds())/1000).
		Float64("gflops", res.GFLOPS()).
		Msg("matmul complete")
	return res, nil
}

// Add computes c[i] = a[i] + b[i] on the device.
func (l *Launcher) Add(a, b []float32) ([]float32, error) {
	if len(a) == 0 || len(a) != len(b) {
		return nil, fmt.Errorf("add: %w: lengths %d and %d", matrix.ErrShape, len(a), len(b))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, ErrReleased
	}

	fn, releaseModule, err := l.function(kernels.Add)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	defer releaseModule()

	n := len(a)
	bufs, err := l.alloc(3, n)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	defer releaseAll(bufs)

	if err := l.upload(bufs[0], a, "a"); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	if err := l.upload(bufs[1], b, "b"); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	stream, err := l.streamLocked()
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	cfg := driver.LinearLaunch(n, AddThreadsPerBlock)
	if _, err := l.run(stream, fn, cfg, bufs[0], bufs[1], bufs[2], uint32(n)); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	out := make([]float32, n)
	if err := l.download(bufs[2], out, "c"); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	return out, nil
}

// Release frees cached modules and the stream. The device stays open.
func (l *Launcher) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.modules.Clear()
	if l.stream != nil {
		l.stream.Release()
		l.stream = nil
	}
}
