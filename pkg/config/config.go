// Package config loads tilegemm settings from YAML with TILEGEMM_*
// environment overrides.
//
// Precedence, lowest first: Default(), the YAML file, the environment, and
// finally command-line flags applied by the caller.
//
// Example config file:
//
//	n: 2048
//	tile_size: 16
//	seed: 7
//	verify: true
//	gpu:
//	  backend: cuda
//	  fallback_on_error: true
//	history:
//	  enabled: true
//	  dir: ~/.tilegemm/history
//	log:
//	  level: debug
//	  format: json
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/tilegemm/pkg/gpu"
	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

// Environment variables read by ApplyEnv.
const (
	EnvN          = "TILEGEMM_N"
	EnvTileSize   = "TILEGEMM_TILE_SIZE"
	EnvSeed       = "TILEGEMM_SEED"
	EnvBackend    = "TILEGEMM_BACKEND"
	EnvLogLevel   = "TILEGEMM_LOG_LEVEL"
	EnvHistoryDir = "TILEGEMM_HISTORY_DIR"
)

// DefaultN is the matrix edge of a default run.
const DefaultN = 1024

// ErrInvalid is wrapped by every validation and parse error.
var ErrInvalid = errors.New("config: invalid")

// Config is the full tilegemm configuration.
type Config struct {
	N        int    `yaml:"n"`
	Seed     uint64 `yaml:"seed"`
	TileSize int    `yaml:"tile_size"`
	Verify   bool   `yaml:"verify"`

	GPU     gpu.Config    `yaml:"gpu"`
	Kernel  KernelConfig  `yaml:"kernel"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// KernelConfig selects the kernel artifact.
type KernelConfig struct {
	// PTXPath points at prebuilt PTX used instead of compiling the
	// embedded CUDA C. CUDA only.
	PTXPath string `yaml:"ptx_path"`
}

// HistoryConfig controls the run history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LogConfig controls diagnostics.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		N:        DefaultN,
		Seed:     1,
		TileSize: driver.DefaultTileSize,
		GPU:      *gpu.DefaultConfig(),
		History: HistoryConfig{
			Enabled: false,
			Dir:     defaultHistoryDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultHistoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tilegemm", "history")
	}
	return filepath.Join(home, ".tilegemm", "history")
}

// Load reads path over Default(). A missing file is an error; an empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalid, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TILEGEMM_* environment variables. Unset
// and empty variables are ignored.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvN); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, EnvN, v, err)
		}
		c.N = n
	}
	if v, ok := get(EnvTileSize); ok {
		tile, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, EnvTileSize, v, err)
		}
		c.TileSize = tile
	}
	if v, ok := get(EnvSeed); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, EnvSeed, v, err)
		}
		c.Seed = seed
	}
	if v, ok := get(EnvBackend); ok {
		c.GPU.Backend = driver.Backend(strings.ToLower(v))
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvHistoryDir); ok {
		c.History.Dir = v
		c.History.Enabled = true
	}
	return nil
}

// Validate checks ranges and normalizes the backend name.
func (c *Config) Validate() error {
	if c.N <= 0 {
		return fmt.Errorf("%w: n must be positive, got %d", ErrInvalid, c.N)
	}
	if c.TileSize < 0 {
		return fmt.Errorf("%w: tile_size must be zero or positive, got %d", ErrInvalid, c.TileSize)
	}
	if c.TileSize*c.TileSize > driver.DefaultLimits().MaxThreadsPerBlock {
		return fmt.Errorf("%w: tile_size %d gives %d threads per block, maximum is %d",
			ErrInvalid, c.TileSize, c.TileSize*c.TileSize, driver.DefaultLimits().MaxThreadsPerBlock)
	}

	backend, ok := driver.ParseBackend(strings.ToLower(string(c.GPU.Backend)))
	if !ok {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.GPU.Backend)
	}
	c.GPU.Backend = backend
	if c.GPU.DeviceID < 0 {
		return fmt.Errorf("%w: gpu.device_id must not be negative, got %d", ErrInvalid, c.GPU.DeviceID)
	}

	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: log.format must be console or json, got %q", ErrInvalid, c.Log.Format)
	}
	if c.History.Enabled && c.History.Dir == "" {
		return fmt.Errorf("%w: history.dir is required when history is enabled", ErrInvalid)
	}
	return nil
}

// LoadPTX returns the contents of Kernel.PTXPath, or "" when unset.
func (c *Config) LoadPTX() (string, error) {
	if c.Kernel.PTXPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Kernel.PTXPath)
	if err != nil {
		return "", fmt.Errorf("config: read ptx: %w", err)
	}
	return string(data), nil
}
