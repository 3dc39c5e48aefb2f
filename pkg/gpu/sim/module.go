package sim

import (
	"strconv"
	"sync/atomic"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

// Module is a loaded kernel image: the entry points it declares, bound to
// registered Go kernels.
type Module struct {
	dev      *Device
	name     string
	tile     int
	entries  []string
	fns      map[string]*Function
	released atomic.Bool
}

// LoadModule implements driver.Device. The image must be CUDA C or PTX; its
// declared entry points are bound to registered kernels by name. An image
// declaring no entries, or an entry with no Go implementation, is rejected.
func (d *Device) LoadModule(img driver.ModuleImage) (driver.Module, error) {
	if img.Format != driver.FormatCUDA && img.Format != driver.FormatPTX {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
			"%s: unsupported image format %s", img.Name, img.Format)
	}

	tile := driver.DefaultTileSize
	if v, ok := img.Define("TILE_SZ"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
				"%s: invalid TILE_SZ %q", img.Name, v)
		}
		tile = n
	}

	entries := img.Entries()
	if len(entries) == 0 {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
			"%s: no kernel entry points", img.Name)
	}

	m := &Module{
		dev:     d,
		name:    img.Name,
		tile:    tile,
		entries: entries,
		fns:     make(map[string]*Function, len(entries)),
	}
	for _, name := range entries {
		k, ok := Lookup(name)
		if !ok {
			return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
				"%s: entry %q has no software implementation", img.Name, name)
		}
		if k.SharedBytes(tile) > d.limits.MaxSharedBytes {
			return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
				"%s: entry %q needs %d bytes of shared memory at TILE_SZ=%d, device maximum is %d",
				img.Name, name, k.SharedBytes(tile), tile, d.limits.MaxSharedBytes)
		}
		m.fns[name] = &Function{mod: m, kernel: k}
	}
	return m, nil
}

// Tile returns the TILE_SZ the module was loaded with.
func (m *Module) Tile() int { return m.tile }

// Entries implements driver.Module.
func (m *Module) Entries() []string {
	return append([]string(nil), m.entries...)
}

// Function implements driver.Module.
func (m *Module) Function(name string) (driver.Function, error) {
	if m.released.Load() {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "get function", "%s: module released", m.name)
	}
	fn, ok := m.fns[name]
	if !ok {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "get function",
			"%s: no entry point named %q", m.name, name)
	}
	return fn, nil
}

// Release implements driver.Module.
func (m *Module) Release() {
	m.released.Store(true)
}

// Function is a launchable software kernel.
type Function struct {
	mod    *Module
	kernel *Kernel
}

// Name implements driver.Function.
func (f *Function) Name() string { return f.kernel.Name }

// Launch implements driver.Function. Configuration and argument errors are
// reported immediately; the kernel itself runs on the stream's worker.
func (f *Function) Launch(stream driver.Stream, cfg driver.LaunchConfig, args ...any) error {
	dev := f.mod.dev

	s, ok := stream.(*Stream)
	if !ok || s == nil || s.dev != dev {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "stream does not belong to this device")
	}
	if f.mod.released.Load() {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "%s: module released", f.mod.name)
	}

	cfg.SharedBytes += f.kernel.SharedBytes(f.mod.tile)
	if err := cfg.Validate(backend, dev.limits); err != nil {
		return err
	}

	resolved, err := f.kernel.resolve(dev, args)
	if err != nil {
		return err
	}
	if f.kernel.Check != nil {
		if err := f.kernel.Check(cfg, f.mod.tile, resolved); err != nil {
			return err
		}
	}

	k, tile := f.kernel, f.mod.tile
	return s.submit(func() error {
		return dev.execute(k, cfg, tile, resolved)
	})
}
