package sim

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/pool"
)

// Thread is the execution context of one kernel thread.
type Thread struct {
	BlockIdx  driver.Dim3
	ThreadIdx driver.Dim3
	BlockDim  driver.Dim3
	GridDim   driver.Dim3

	block *block
}

// SyncThreads waits until every thread of the block has reached the same
// call. Every thread must make the same sequence of SyncThreads calls.
func (t *Thread) SyncThreads() {
	t.block.barrier.Wait()
}

// Shared returns shared slot i of the thread's block.
func (t *Thread) Shared(i int) []float32 {
	return t.block.shared[i]
}

// GlobalX returns blockIdx.x*blockDim.x + threadIdx.x.
func (t *Thread) GlobalX() int {
	return int(t.BlockIdx.X)*int(t.BlockDim.X) + int(t.ThreadIdx.X)
}

// GlobalY returns blockIdx.y*blockDim.y + threadIdx.y.
func (t *Thread) GlobalY() int {
	return int(t.BlockIdx.Y)*int(t.BlockDim.Y) + int(t.ThreadIdx.Y)
}

type block struct {
	shared  [][]float32
	barrier *Barrier
}

// execute runs every block of the grid. Blocks run concurrently, bounded by
// MaxConcurrentBlocks; once a block faults, blocks not yet started are
// skipped.
func (d *Device) execute(k *Kernel, cfg driver.LaunchConfig, tile int, args Args) error {
	d.launches.Add(1)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(d.opts.MaxConcurrentBlocks)

	for z := uint32(0); z < cfg.Grid.Z; z++ {
		for y := uint32(0); y < cfg.Grid.Y; y++ {
			for x := uint32(0); x < cfg.Grid.X; x++ {
				idx := driver.Dim3{X: x, Y: y, Z: z}
				if ctx.Err() != nil {
					return g.Wait()
				}
				g.Go(func() error {
					if ctx.Err() != nil {
						return nil
					}
					return runBlock(k, cfg, tile, idx, args)
				})
			}
		}
	}
	return g.Wait()
}

// runBlock runs one block: one goroutine per thread, sharing zeroed shared
// slots and one barrier.
func runBlock(k *Kernel, cfg driver.LaunchConfig, tile int, idx driver.Dim3, args Args) error {
	b := &block{
		shared:  make([][]float32, k.SharedSlots),
		barrier: NewBarrier(int(cfg.Block.Size())),
	}
	for i := range b.shared {
		b.shared[i] = pool.GetFloat32s(tile * tile)
	}
	defer func() {
		for _, s := range b.shared {
			pool.PutFloat32s(s)
		}
	}()

	var (
		wg       sync.WaitGroup
		faultMu  sync.Mutex
		fault    error
		setFault = func(err error) {
			faultMu.Lock()
			if fault == nil {
				fault = err
			}
			faultMu.Unlock()
			b.barrier.Break(err)
		}
	)

	for tz := uint32(0); tz < cfg.Block.Z; tz++ {
		for ty := uint32(0); ty < cfg.Block.Y; ty++ {
			for tx := uint32(0); tx < cfg.Block.X; tx++ {
				t := &Thread{
					BlockIdx:  idx,
					ThreadIdx: driver.Dim3{X: tx, Y: ty, Z: tz},
					BlockDim:  cfg.Block,
					GridDim:   cfg.Grid,
					block:     b,
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							if _, ok := r.(barrierBroken); ok {
								return
							}
							setFault(fmt.Errorf("thread %s of block %s: %v", t.ThreadIdx, t.BlockIdx, r))
							return
						}
						b.barrier.Exit()
					}()
					k.Body(t, args)
				}()
			}
		}
	}
	wg.Wait()

	if fault == nil {
		fault = b.barrier.Err()
	}
	if fault != nil {
		return driver.Errorf(backend, driver.ErrLaunch, "execute", "%s: kernel fault: %v", k.Name, fault)
	}
	return nil
}
