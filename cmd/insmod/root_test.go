package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conn-castle/modutils/internal/config"
	"github.com/conn-castle/modutils/internal/load"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunMainInsmodBareNameNotFound(t *testing.T) {
	k := &fakeKernel{}
	withKernel(t, k)
	cfg := writeConfig(t, `path = ["`+t.TempDir()+`"]`)

	var out, errw bytes.Buffer
	code := 0
	runMain([]string{"insmod", "-C", cfg, "nosuchmod"}, &out, &errw, func(c int) { code = c })

	assert.Equal(t, 1, code)
	assert.Contains(t, errw.String(), "nosuchmod: no module by that name found")
}

func TestRunMainInsmodMissingFile(t *testing.T) {
	k := &fakeKernel{}
	withKernel(t, k)
	cfg := writeConfig(t, "")

	var out, errw bytes.Buffer
	code := 0
	runMain([]string{"insmod", "-C", cfg, "/nonexistent/dir/mod.o"}, &out, &errw, func(c int) { code = c })

	assert.Equal(t, 1, code)
	assert.Contains(t, errw.String(), "/nonexistent/dir/mod.o")
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[options.serial]
autoclean = true
force = true
prefix = "smp_"
args = ["irq=7"]
`), "test")
	require.NoError(t, err)

	cmd := newInsmodCmd()
	require.NoError(t, cmd.Flags().Set("force", "false")) // explicit flag wins

	opts := load.Options{Args: []string{"io=0x300"}}
	applyConfigDefaults(cmd, cfg, &opts, "/lib/modules/serial.o")

	assert.True(t, opts.Autoclean)
	assert.False(t, opts.Force)
	assert.Equal(t, "smp_", opts.Prefix)
	assert.Equal(t, []string{"irq=7", "io=0x300"}, opts.Args)
}

func TestApplyConfigDefaultsNoEntry(t *testing.T) {
	cfg, err := config.Parse(nil, "test")
	require.NoError(t, err)

	cmd := newInsmodCmd()
	opts := load.Options{}
	applyConfigDefaults(cmd, cfg, &opts, "serial.o")
	assert.False(t, opts.Autoclean)
}
