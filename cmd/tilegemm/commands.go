package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orneryd/tilegemm/pkg/gpu"
	"github.com/orneryd/tilegemm/pkg/history"
	"github.com/orneryd/tilegemm/pkg/logging"
)

func newVerifyCmd(a *app) *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the correctness suite on the selected device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			accel, launcher, release, err := a.open()
			if err != nil {
				return err
			}
			defer release()

			printDevice(out, accel, launcher.Tile())
			failed := 0
			for _, c := range gpu.SelfCheck(launcher, seed) {
				if c.Passed() {
					fmt.Fprintf(out, "  ✅ %s\n", c.Name)
					continue
				}
				failed++
				fmt.Fprintf(out, "  ❌ %s: %v\n", c.Name, c.Err)
			}
			if failed > 0 {
				return fmt.Errorf("verify: %d checks failed", failed)
			}
			fmt.Fprintln(out, "Ok!")
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed for the reference cases")
	return cmd
}

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List compute backends and their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-10s %-8s %s\n", "BACKEND", "AVAILABLE", "DEVICES", "NOTE")
			for _, info := range gpu.Probe() {
				fmt.Fprintf(out, "%-10s %-10t %-8d %s\n", info.Backend, info.Available, info.Devices, info.Note)
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(a.cfg.History.Dir, logging.Component(a.log, "history"))
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, r := range recs {
				verified := ""
				if r.Verified {
					verified = " verified"
				}
				fmt.Fprintf(out, "%s  %s  %-8s n=%-6d tile=%-3d kernel=%.6fs  %.3f Gflops  %s%s\n",
					r.Time.Format("2006-01-02 15:04:05"), r.ID, r.Backend, r.N, r.Tile,
					r.KernelTime.Seconds(), r.GFLOPS, shortSum(r.Checksum), verified)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
