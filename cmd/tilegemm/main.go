// Command tilegemm multiplies two random square matrices with the tiled
// matrix multiplication kernel on the best available compute device.
//
// Usage:
//
//	tilegemm [command] [flags]
//
// Commands:
//
//	run       multiply two random N×N matrices and report timing (default)
//	verify    run the correctness suite on the selected device
//	devices   list compute backends and their availability
//	history   list recorded runs
//
// Example:
//
//	# 2048×2048 on whatever device is available
//	tilegemm --n 2048
//
//	# Force the software device and check the result on the CPU
//	tilegemm run --backend software --n 256 --verify
//
//	# CUDA build with prebuilt PTX
//	go build -tags cuda ./cmd/tilegemm
//	TILEGEMM_BACKEND=cuda tilegemm --config tilegemm.yaml
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orneryd/tilegemm/pkg/config"
	"github.com/orneryd/tilegemm/pkg/gpu"
	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/logging"
)

func main() {
	a := &app{}
	if err := a.rootCmd().Execute(); err != nil {
		a.fail(err, os.Stderr)
		os.Exit(1)
	}
}

// app carries state shared by every command.
type app struct {
	configPath string
	backend    string
	logLevel   string

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	runFlags := &runOptions{}

	root := &cobra.Command{
		Use:           "tilegemm",
		Short:         "Tiled single-precision matrix multiplication on a GPU",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, runFlags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.backend, "backend", "", "compute backend: auto, cuda, opencl, software")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	runFlags.bind(root)
	root.AddCommand(
		newRunCmd(a),
		newVerifyCmd(a),
		newDevicesCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// setup loads the config (file, then environment, then persistent flags),
// validates it and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		cfg.GPU.Backend = driver.Backend(a.backend)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	return nil
}

// fail logs err with the configured logger. When setup never completed it
// falls back to a console logger on w.
func (a *app) fail(err error, w io.Writer) {
	log := a.log
	if a.cfg == nil {
		log, _ = logging.New(logging.Options{Out: w})
	}
	log.Error().Err(err).Msg("❌ tilegemm failed")
}

// open opens the configured device and a launcher on it. The returned
// function releases both.
func (a *app) open() (*gpu.Accelerator, *gpu.Launcher, func(), error) {
	accel, err := gpu.NewAccelerator(&a.cfg.GPU, gpu.WithLogger(logging.Component(a.log, "accelerator")))
	if err != nil {
		return nil, nil, nil, err
	}

	ptx, err := a.cfg.LoadPTX()
	if err != nil {
		accel.Release()
		return nil, nil, nil, err
	}

	launcher, err := gpu.NewLauncher(accel, gpu.LauncherOptions{
		TileSize: a.cfg.TileSize,
		PTX:      ptx,
		Logger:   logging.Component(a.log, "launcher"),
	})
	if err != nil {
		accel.Release()
		return nil, nil, nil, err
	}

	return accel, launcher, func() {
		launcher.Release()
		accel.Release()
	}, nil
}

func printDevice(w io.Writer, accel *gpu.Accelerator, tile int) {
	fmt.Fprintf(w, "Device: %s (%s, %d MB), tile %d\n",
		accel.DeviceName(), accel.Backend(), accel.DeviceMemoryMB(), tile)
}
