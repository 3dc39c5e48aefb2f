package driver

import "fmt"

// DefaultTileSize is the edge length of the square shared-memory tile, and
// therefore of a 2-D thread block, used when nothing else is configured.
const DefaultTileSize = 16

// Dim3 is a 3-D extent of threads or blocks.
type Dim3 struct {
	X, Y, Z uint32
}

// Size returns X*Y*Z.
func (d Dim3) Size() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// LaunchConfig is the grid/block shape of one kernel launch.
type LaunchConfig struct {
	Grid  Dim3
	Block Dim3

	// SharedBytes is dynamic shared memory per block. The tiled kernels use
	// static shared arrays, so this is usually zero.
	SharedBytes int
}

// CeilDiv returns ceil(n / d) for positive d.
func CeilDiv(n, d int) int {
	return (n + d - 1) / d
}

// TiledLaunch returns the launch shape for an n×n problem with square tiles
// of the given edge: one thread per output element, tile×tile threads per
// block and ceil(n/tile) blocks along each used axis.
func TiledLaunch(n, tile int) LaunchConfig {
	if n < 0 {
		n = 0
	}
	if tile < 0 {
		tile = 0
	}
	g := 0
	if tile > 0 {
		g = CeilDiv(n, tile)
	}
	return LaunchConfig{
		Grid:  Dim3{X: uint32(g), Y: uint32(g), Z: 1},
		Block: Dim3{X: uint32(tile), Y: uint32(tile), Z: 1},
	}
}

// LinearLaunch returns a 1-D launch shape covering count elements with the
// given number of threads per block.
func LinearLaunch(count, threads int) LaunchConfig {
	if count < 0 {
		count = 0
	}
	if threads < 0 {
		threads = 0
	}
	g := 0
	if threads > 0 {
		g = CeilDiv(count, threads)
	}
	return LaunchConfig{
		Grid:  Dim3{X: uint32(g), Y: 1, Z: 1},
		Block: Dim3{X: uint32(threads), Y: 1, Z: 1},
	}
}

// Blocks returns the number of blocks in the grid.
func (c LaunchConfig) Blocks() uint64 { return c.Grid.Size() }

// ThreadsPerBlock returns the number of threads in one block.
func (c LaunchConfig) ThreadsPerBlock() uint64 { return c.Block.Size() }

// Threads returns the total number of threads launched.
func (c LaunchConfig) Threads() uint64 { return c.Blocks() * c.ThreadsPerBlock() }

// Validate checks the configuration against device limits. Every failure
// wraps ErrLaunch.
func (c LaunchConfig) Validate(backend Backend, limits Limits) error {
	if c.Grid.Size() == 0 {
		return Errorf(backend, ErrLaunch, "launch", "zero-sized grid %s", c.Grid)
	}
	if c.Block.Size() == 0 {
		return Errorf(backend, ErrLaunch, "launch", "zero-sized block %s", c.Block)
	}
	if limits.MaxThreadsPerBlock > 0 && c.Block.Size() > uint64(limits.MaxThreadsPerBlock) {
		return Errorf(backend, ErrLaunch, "launch", "block %s has %d threads, device maximum is %d",
			c.Block, c.Block.Size(), limits.MaxThreadsPerBlock)
	}
	if exceeds(c.Block, limits.MaxBlockDim) {
		return Errorf(backend, ErrLaunch, "launch", "block %s exceeds maximum %s", c.Block, limits.MaxBlockDim)
	}
	if exceeds(c.Grid, limits.MaxGridDim) {
		return Errorf(backend, ErrLaunch, "launch", "grid %s exceeds maximum %s", c.Grid, limits.MaxGridDim)
	}
	if c.SharedBytes < 0 || (limits.MaxSharedBytes > 0 && c.SharedBytes > limits.MaxSharedBytes) {
		return Errorf(backend, ErrLaunch, "launch", "%d bytes of shared memory requested, device maximum is %d",
			c.SharedBytes, limits.MaxSharedBytes)
	}
	return nil
}

// exceeds reports whether any non-zero limit axis is smaller than d.
func exceeds(d, max Dim3) bool {
	return (max.X > 0 && d.X > max.X) ||
		(max.Y > 0 && d.Y > max.Y) ||
		(max.Z > 0 && d.Z > max.Z)
}
