package sim

import (
	"fmt"
	"sync"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

// ParamKind is the type of a kernel parameter.
type ParamKind int

const (
	// ParamBuffer is a device buffer, passed as a *Buffer.
	ParamBuffer ParamKind = iota
	// ParamUint is a non-negative integer.
	ParamUint
)

func (k ParamKind) String() string {
	if k == ParamBuffer {
		return "buffer"
	}
	return "uint"
}

// Kernel is a Go implementation of a device entry point.
type Kernel struct {
	Name   string
	Params []ParamKind

	// SharedSlots is the number of tile×tile float32 shared arrays each
	// block gets, zeroed at block dispatch.
	SharedSlots int

	// Check validates a launch before it is queued. Optional.
	Check func(cfg driver.LaunchConfig, tile int, args Args) error

	// Body runs once per thread.
	Body func(t *Thread, args Args)
}

// SharedBytes returns the static shared memory one block of k uses.
func (k *Kernel) SharedBytes(tile int) int {
	return k.SharedSlots * tile * tile * 4
}

// Args are resolved kernel arguments, indexed by parameter position.
type Args struct {
	bufs [][]float32
	ints []int
}

// Floats returns the device memory of buffer parameter i.
func (a Args) Floats(i int) []float32 { return a.bufs[i] }

// Int returns integer parameter i.
func (a Args) Int(i int) int { return a.ints[i] }

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Kernel)
)

// Register makes a kernel available to modules that declare its entry
// point. It panics if the name is already registered.
func Register(k *Kernel) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[k.Name]; dup {
		panic(fmt.Sprintf("sim: kernel %q registered twice", k.Name))
	}
	registry[k.Name] = k
}

// Lookup returns the registered kernel for an entry point name.
func Lookup(name string) (*Kernel, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := registry[name]
	return k, ok
}

// resolve checks args against the kernel's parameter list.
func (k *Kernel) resolve(dev *Device, args []any) (Args, error) {
	if len(args) != len(k.Params) {
		return Args{}, driver.Errorf(backend, driver.ErrLaunch, "launch",
			"%s takes %d arguments, got %d", k.Name, len(k.Params), len(args))
	}

	out := Args{
		bufs: make([][]float32, len(args)),
		ints: make([]int, len(args)),
	}
	for i, p := range k.Params {
		switch p {
		case ParamBuffer:
			buf, ok := args[i].(*Buffer)
			if !ok || buf == nil {
				return Args{}, driver.Errorf(backend, driver.ErrLaunch, "launch",
					"%s argument %d: want software device buffer, got %T", k.Name, i, args[i])
			}
			if buf.dev != dev {
				return Args{}, driver.Errorf(backend, driver.ErrLaunch, "launch",
					"%s argument %d: buffer belongs to another device", k.Name, i)
			}
			data := buf.view()
			if data == nil {
				return Args{}, driver.Errorf(backend, driver.ErrLaunch, "launch",
					"%s argument %d: buffer released", k.Name, i)
			}
			out.bufs[i] = data
		case ParamUint:
			v, ok := toInt(args[i])
			if !ok || v < 0 {
				return Args{}, driver.Errorf(backend, driver.ErrLaunch, "launch",
					"%s argument %d: want non-negative integer, got %v (%T)", k.Name, i, args[i], args[i])
			}
			out.ints[i] = v
		}
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint:
		return int(x), true
	case uint32:
		return int(x), true
	case uint64:
		return int(x), true
	}
	return 0, false
}
