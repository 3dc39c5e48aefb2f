package sim

import (
	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/gpu/kernels"
)

func init() {
	Register(&Kernel{
		Name:   kernels.Add,
		Params: []ParamKind{ParamBuffer, ParamBuffer, ParamBuffer, ParamUint},
		Check:  checkAdd,
		Body:   add,
	})
	Register(&Kernel{
		Name:        kernels.MatMulTiled,
		Params:      []ParamKind{ParamBuffer, ParamBuffer, ParamBuffer, ParamUint},
		SharedSlots: 2,
		Check:       checkMatMul,
		Body:        matmulTiled,
	})
}

// add computes c[i] = a[i] + b[i], one element per thread.
func add(t *Thread, args Args) {
	a, b, c := args.Floats(0), args.Floats(1), args.Floats(2)
	n := args.Int(3)

	idx := t.GlobalX()
	if idx < n {
		c[idx] = a[idx] + b[idx]
	}
}

func checkAdd(cfg driver.LaunchConfig, _ int, args Args) error {
	n := args.Int(3)
	for i := 0; i < 3; i++ {
		if len(args.Floats(i)) < n {
			return driver.Errorf(backend, driver.ErrLaunch, "launch",
				"%s argument %d holds %d elements, n is %d", kernels.Add, i, len(args.Floats(i)), n)
		}
	}
	return nil
}

// sharedTile is a square view over a flat shared slot.
type sharedTile struct {
	data []float32
	edge int
}

func (s sharedTile) at(y, x int) float32     { return s.data[y*s.edge+x] }
func (s sharedTile) set(y, x int, v float32) { s.data[y*s.edge+x] = v }

// matmulTiled computes one element of C = A×B for row-major n×n matrices,
// staging tiles of A and B through the block's shared slots. Loads past the
// matrix edge stage zero, so n need not be a multiple of the tile edge.
func matmulTiled(t *Thread, args Args) {
	a, b, c := args.Floats(0), args.Floats(1), args.Floats(2)
	n := args.Int(3)

	edge := int(t.BlockDim.X)
	tx, ty := int(t.ThreadIdx.X), int(t.ThreadIdx.Y)
	row, col := t.GlobalY(), t.GlobalX()

	tileA := sharedTile{data: t.Shared(0), edge: edge}
	tileB := sharedTile{data: t.Shared(1), edge: edge}

	var sum float32
	tiles := (n + edge - 1) / edge
	for i := 0; i < tiles; i++ {
		ka := i*edge + tx
		if ka < n && row < n {
			tileA.set(ty, tx, a[row*n+ka])
		} else {
			tileA.set(ty, tx, 0)
		}

		kb := i*edge + ty
		if kb < n && col < n {
			tileB.set(ty, tx, b[kb*n+col])
		} else {
			tileB.set(ty, tx, 0)
		}

		t.SyncThreads()

		for j := 0; j < edge; j++ {
			// The conversion forces rounding of the product, so no fused
			// multiply-add changes results between architectures.
			sum += float32(tileA.at(ty, j) * tileB.at(j, tx))
		}

		t.SyncThreads()
	}

	if row < n && col < n {
		c[row*n+col] = sum
	}
}

// checkMatMul enforces the block shape the tiles were sized for and the
// n×n length of every matrix argument.
func checkMatMul(cfg driver.LaunchConfig, tileEdge int, args Args) error {
	if cfg.Block.X != uint32(tileEdge) || cfg.Block.Y != uint32(tileEdge) || cfg.Block.Z != 1 {
		return driver.Errorf(backend, driver.ErrLaunch, "launch",
			"%s needs a %dx%dx1 block, got %s", kernels.MatMulTiled, tileEdge, tileEdge, cfg.Block)
	}
	n := args.Int(3)
	for i := 0; i < 3; i++ {
		if len(args.Floats(i)) < n*n {
			return driver.Errorf(backend, driver.ErrLaunch, "launch",
				"%s argument %d holds %d elements, n*n is %d", kernels.MatMulTiled, i, len(args.Floats(i)), n*n)
		}
	}
	return nil
}
