package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orneryd/tilegemm/pkg/gpu"
	"github.com/orneryd/tilegemm/pkg/history"
	"github.com/orneryd/tilegemm/pkg/logging"
	"github.com/orneryd/tilegemm/pkg/matrix"
)

// runOptions are the flags of the run command. Unset flags leave the
// config untouched.
type runOptions struct {
	n         int
	tile      int
	seed      uint64
	verify    bool
	noHistory bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&o.n, "n", 0, "matrix edge length")
	f.IntVar(&o.tile, "tile", 0, "tile edge (0 asks the device)")
	f.Uint64Var(&o.seed, "seed", 0, "random seed for the input matrices")
	f.BoolVar(&o.verify, "verify", false, "check the result against a CPU reference")
	f.BoolVar(&o.noHistory, "no-history", false, "do not record this run")
}

// apply copies explicitly set flags into the config and revalidates it.
func (o *runOptions) apply(cmd *cobra.Command, a *app) error {
	f := cmd.Flags()
	if f.Changed("n") {
		a.cfg.N = o.n
	}
	if f.Changed("tile") {
		a.cfg.TileSize = o.tile
	}
	if f.Changed("seed") {
		a.cfg.Seed = o.seed
	}
	if f.Changed("verify") {
		a.cfg.Verify = o.verify
	}
	if o.noHistory {
		a.cfg.History.Enabled = false
	}
	return a.cfg.Validate()
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Multiply two random N×N matrices and report timing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (a *app) run(cmd *cobra.Command, opts *runOptions) error {
	if err := opts.apply(cmd, a); err != nil {
		return err
	}
	cfg := a.cfg
	out := cmd.OutOrStdout()

	accel, launcher, release, err := a.open()
	if err != nil {
		return err
	}
	defer release()

	g := matrix.NewGenerator(cfg.Seed)
	x, err := g.Random(cfg.N)
	if err != nil {
		return err
	}
	y, err := g.Random(cfg.N)
	if err != nil {
		return err
	}

	printDevice(out, accel, launcher.Tile())
	res, err := launcher.MatMul(x, y)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Grid %s, block %s: %d blocks and %d threads per block (%d threads total)\n",
		res.Launch.Grid, res.Launch.Block,
		res.Launch.Blocks(), res.Launch.ThreadsPerBlock(), res.Launch.Threads())
	fmt.Fprintf(out, "Spent on kernel = %.6fs,\tPerf = %.3f Gflops\n", res.KernelTime.Seconds(), res.GFLOPS())
	fmt.Fprintf(out, "%.6fs elapsed\n", res.TotalTime.Seconds())

	checksum := res.C.Checksum()
	fmt.Fprintf(out, "Checksum: %s\n", checksum)

	rec := &history.Record{
		Backend:    res.Backend.String(),
		Device:     res.Device,
		N:          cfg.N,
		Tile:       res.Tile,
		Seed:       cfg.Seed,
		KernelTime: res.KernelTime,
		TotalTime:  res.TotalTime,
		GFLOPS:     res.GFLOPS(),
		Checksum:   checksum,
	}

	if cfg.Verify {
		want, err := matrix.MulBLAS(x, y)
		if err != nil {
			return err
		}
		maxErr, err := matrix.MaxRelError(res.C, want)
		if err != nil {
			return err
		}
		rec.MaxRelError = maxErr
		if err := matrix.Compare(res.C, want, gpu.Tolerance); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		rec.Verified = true
		fmt.Fprintf(out, "Verified against CPU reference (max relative error %.3g)\n", maxErr)
	}

	if cfg.History.Enabled {
		if err := a.record(rec); err != nil {
			a.log.Warn().Err(err).Msg("run not recorded")
		}
	}

	fmt.Fprintln(out, "Ok!")
	return nil
}

func (a *app) record(rec *history.Record) error {
	store, err := history.Open(a.cfg.History.Dir, logging.Component(a.log, "history"))
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Put(rec)
	if err != nil {
		return err
	}
	a.log.Debug().Str("id", id).Msg("run recorded")
	return nil
}
