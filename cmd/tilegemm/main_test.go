package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tilegemm/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T, historyDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tilegemm.yaml")
	body := fmt.Sprintf(`
n: 20
seed: 3
gpu:
  backend: software
history:
  enabled: true
  dir: %s
log:
  level: error
`, historyDir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunDefaultCommand(t *testing.T) {
	out, err := execute(t, "--backend", "software", "--log-level", "error", "--n", "33", "--verify")
	require.NoError(t, err)

	assert.Contains(t, out, "Device: Software device")
	assert.Contains(t, out, "9 blocks and 256 threads per block (2304 threads total)")
	assert.Contains(t, out, "Spent on kernel = ")
	assert.Contains(t, out, "Gflops")
	assert.Contains(t, out, "s elapsed")
	assert.Contains(t, out, "Checksum: ")
	assert.Contains(t, out, "Verified against CPU reference")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Ok!"))
}

func TestRunIsDeterministic(t *testing.T) {
	checksum := func() string {
		out, err := execute(t, "run", "--backend", "software", "--log-level", "error", "--n", "17", "--seed", "5")
		require.NoError(t, err)
		for _, line := range strings.Split(out, "\n") {
			if sum, ok := strings.CutPrefix(line, "Checksum: "); ok {
				return sum
			}
		}
		t.Fatalf("no checksum in output:\n%s", out)
		return ""
	}
	assert.Equal(t, checksum(), checksum())
}

func TestRunTileFlag(t *testing.T) {
	out, err := execute(t, "run", "--backend", "software", "--log-level", "error", "--n", "16", "--tile", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "tile 8")
	assert.Contains(t, out, "4 blocks and 64 threads per block (256 threads total)")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "--backend", "software", "--n=-4")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "run", "--backend", "metal")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunRecordsHistory(t *testing.T) {
	historyDir := t.TempDir()
	cfgPath := writeConfig(t, historyDir)

	_, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)
	_, err = execute(t, "run", "--config", cfgPath, "--n", "24", "--verify")
	require.NoError(t, err)

	out, err := execute(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "n=24")
	assert.Contains(t, lines[0], "verified")
	assert.Contains(t, lines[1], "n=20")

	out, err = execute(t, "history", "--config", cfgPath, "--limit", "1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestRunNoHistory(t *testing.T) {
	historyDir := t.TempDir()
	cfgPath := writeConfig(t, historyDir)

	_, err := execute(t, "run", "--config", cfgPath, "--no-history")
	require.NoError(t, err)

	out, err := execute(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestVerifyCommand(t *testing.T) {
	out, err := execute(t, "verify", "--backend", "software", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "reference n=17")
	assert.Contains(t, out, "ones n=17")
	assert.NotContains(t, out, "❌")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Ok!"))
}

func TestDevicesCommand(t *testing.T) {
	out, err := execute(t, "devices", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "BACKEND")
	assert.Contains(t, out, "software")
	assert.Contains(t, out, "cuda")
	assert.Contains(t, out, "opencl")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(config.EnvBackend, "software")
	t.Setenv(config.EnvN, "18")
	t.Setenv(config.EnvLogLevel, "error")

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "4 blocks and 256 threads per block (1024 threads total)")
}

func TestFailureUsesConfiguredLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tilegemm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gpu:\n  backend: software\nlog:\n  level: warn\n  format: json\n"), 0o600))

	var stdout, stderr, fallback bytes.Buffer
	a := &app{}
	cmd := a.rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"run", "--config", path, "--n=-4"})
	err := cmd.Execute()
	require.ErrorIs(t, err, config.ErrInvalid)

	a.fail(err, &fallback)
	assert.Empty(t, fallback.String())

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stderr.String())), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "❌ tilegemm failed", entry["message"])
	assert.Contains(t, entry["error"], "n must be")
}

func TestFailureBeforeSetupFallsBack(t *testing.T) {
	var stdout, stderr, fallback bytes.Buffer
	a := &app{}
	cmd := a.rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"run", "--backend", "metal"})
	err := cmd.Execute()
	require.ErrorIs(t, err, config.ErrInvalid)

	a.fail(err, &fallback)
	assert.Empty(t, stderr.String())
	assert.Contains(t, fallback.String(), "tilegemm failed")
	assert.Contains(t, fallback.String(), "metal")
}
