package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	o := Defaults()
	assert.Equal(t, "info", o.LogLevel)
	assert.Equal(t, "", o.DataDirectory)
	assert.Greater(t, o.MaxObjects, uint64(0))
}

func TestLoadYAML_OverridesDefaultsOnlyForSetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nmax_objects: 2048\n"), 0o644))

	o := Defaults()
	require.NoError(t, o.LoadYAML(path))

	assert.Equal(t, "debug", o.LogLevel)
	assert.Equal(t, uint64(2048), o.MaxObjects)
	assert.Equal(t, Defaults().MaxLocators, o.MaxLocators)
}

func TestLoadYAML_MissingFileIsNotAnError(t *testing.T) {
	o := Defaults()
	require.NoError(t, o.LoadYAML(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, Defaults(), o)
}

func TestLoadEnv_OverridesYAML(t *testing.T) {
	t.Setenv("CORESTORE_LOG_LEVEL", "warn")
	t.Setenv("CORESTORE_MAX_LOCATORS", "512")

	o := Defaults()
	o.LogLevel = "debug" // simulating a prior YAML layer
	require.NoError(t, o.LoadEnv())

	assert.Equal(t, "warn", o.LogLevel)
	assert.Equal(t, uint32(512), o.MaxLocators)
}

func TestBindFlags_FlagOverridesPriorLayers(t *testing.T) {
	o := Defaults()
	o.LogLevel = "warn" // simulating YAML+env result

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.BindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--log-level=error", "--max-objects=99"}))

	assert.Equal(t, "error", o.LogLevel)
	assert.Equal(t, uint64(99), o.MaxObjects)
}

func TestEngine_ProjectsEngineFields(t *testing.T) {
	o := Defaults()
	eng := o.Engine()
	assert.Equal(t, o.MaxObjects, eng.MaxObjects)
	assert.Equal(t, o.MaxLocators, eng.MaxLocators)
	assert.Equal(t, o.MaxLogRecords, eng.MaxLogRecords)
}
