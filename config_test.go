package quickjs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btx638/quickjs-go"
)

const sampleConfig = `
[runtime]
evaluator = "goja"
execute-timeout = 5
memory-limit = 67108864
gc-threshold = -1
max-stack-size = 1048576
strip-source = true

[modules]
import = true

[log]
level = "warn"
`

func TestParseConfig(t *testing.T) {
	c, err := quickjs.ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.Equal(t, quickjs.RuntimeConfig{
		Evaluator:      "goja",
		ExecuteTimeout: 5,
		MemoryLimit:    64 * 1024 * 1024,
		GCThreshold:    -1,
		MaxStackSize:   1024 * 1024,
		StripSource:    true,
	}, c.Runtime)
	require.True(t, c.Modules.Import)
	require.Equal(t, "warn", c.Log.Level)

	opts, err := c.Options()
	require.NoError(t, err)
	require.Len(t, opts, 8)

	rt := quickjs.NewRuntime(opts...)
	defer rt.Close()
	ctx := rt.NewContext()
	res, err := ctx.Eval(`typeof require`)
	require.NoError(t, err)
	defer res.Free()
	require.Equal(t, "function", res.String())

	t.Run("Empty", func(t *testing.T) {
		c, err := quickjs.ParseConfig(nil)
		require.NoError(t, err)
		opts, err := c.Options()
		require.NoError(t, err)
		require.Empty(t, opts)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := quickjs.ParseConfig([]byte("[runtime\nevaluator ="))
		require.ErrorContains(t, err, "quickjs: parse config")
	})

	t.Run("UnknownEvaluator", func(t *testing.T) {
		c, err := quickjs.ParseConfig([]byte("[runtime]\nevaluator = \"v8\"\n"))
		require.NoError(t, err)
		_, err = c.Options()
		require.ErrorContains(t, err, `unknown evaluator "v8"`)
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		c, err := quickjs.ParseConfig([]byte("[log]\nlevel = \"loud\"\n"))
		require.NoError(t, err)
		_, err = c.Options()
		require.ErrorContains(t, err, "log level")
	})
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickjs.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	c, err := quickjs.LoadConfigFile(path)
	require.NoError(t, err)
	require.EqualValues(t, 5, c.Runtime.ExecuteTimeout)

	_, err = quickjs.LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "cannot read")
}
