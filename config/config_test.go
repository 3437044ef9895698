package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetters(t *testing.T) {
	base := Default().WithDisabledPasses("a")
	opts := base.WithDisabledPasses("b").WithWorkers(3).WithTracePasses(true)
	assert.Equal(t, []string{"a"}, base.DisabledPasses, "setters must not modify the receiver")
	assert.True(t, opts.IsPassDisabled("a"))
	assert.True(t, opts.IsPassDisabled("b"))
	assert.False(t, opts.IsPassDisabled("c"))
	assert.Equal(t, 3, opts.NumWorkers())
	assert.Positive(t, Default().NumWorkers())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compile.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TG_TEST_TRACE", "true")
	path := writeConfig(t, `
compile {
  disabled_passes             = ["eliminate_concat", "dead_code_elimination"]
  workers                     = 4
  trace_passes                = env.TG_TEST_TRACE == "true"
  propagate_constant_skip_ops = ["convert"]
}
`)
	opts, err := LoadFile(path)
	require.NoError(t, err)
	want := Options{
		DisabledPasses:           []string{"eliminate_concat", "dead_code_elimination"},
		Workers:                  4,
		TracePasses:              true,
		PropagateConstantSkipOps: []string{"convert"},
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("LoadFile() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileKeepsBase(t *testing.T) {
	path := writeConfig(t, "compile {\n  time_passes = true\n}\n")
	base := Default().WithWorkers(2).WithDisabledPasses("x")
	opts, err := LoadFileWithBase(path, base)
	require.NoError(t, err)
	assert.True(t, opts.TimePasses)
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, []string{"x"}, opts.DisabledPasses)

	empty := writeConfig(t, "")
	opts, err = LoadFileWithBase(empty, base)
	require.NoError(t, err)
	assert.Equal(t, base, opts)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "compile {\n  unknown_option = 1\n}\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "compile {}\ncompile {}\n"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvDisablePasses, "a, b,,c")
	t.Setenv(EnvTimePasses, "1")
	t.Setenv(EnvSkipValidation, "true")
	t.Setenv(EnvWorkers, "7")
	opts, err := FromEnv(Default().WithDisabledPasses("z"))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b", "c"}, opts.DisabledPasses)
	assert.True(t, opts.TimePasses)
	assert.True(t, opts.SkipValidation)
	assert.False(t, opts.TracePasses)
	assert.Equal(t, 7, opts.Workers)

	t.Setenv(EnvWorkers, "many")
	_, err = FromEnv(Default())
	assert.Error(t, err)
}
