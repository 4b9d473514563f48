package nendo

import (
	"context"
	"errors"
	"testing"

	"nendo/config"
	"nendo/core/plugin"
	"nendo/core/plugin/builtin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.LibraryPath = t.TempDir()
	cfg.DefaultSR = 8000
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	ctx := context.Background()
	n, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, 4, n.Registry.Len())
	assert.Nil(t, n.Redis)

	user, err := n.Library.GetUser(ctx, n.Library.Options().UserID)
	require.NoError(t, err)
	assert.Equal(t, "nendo", user.Name)

	res, err := n.Dispatcher.Call(ctx, "tone", plugin.Call{Args: plugin.Args{"sr": 8000, "seconds": 0.1}})
	require.NoError(t, err)
	require.Equal(t, plugin.ResultTrack, res.Kind)

	res, err = n.Dispatcher.Call(ctx, "loudness", plugin.Call{TrackID: res.Track.ID})
	require.NoError(t, err)
	_, ok := res.Track.GetPluginValue("rms")
	assert.True(t, ok)

	assert.NoError(t, n.Close())
	assert.NoError(t, n.Close())
}

func TestNewSelectsPlugins(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins = []string{"textvec"}
	extra := &plugin.Plugin{Name: "nendo_plugin_echo", Ops: []plugin.Op{plugin.UtilityOp{Name: "echo",
		Run: func(_ context.Context, _ *plugin.Env, args plugin.Args) (interface{}, error) { return args["v"], nil }}}}

	n, err := New(context.Background(), cfg, WithPlugins(extra))
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, []string{builtin.TextVecName, "nendo_plugin_echo"}, n.Registry.AllNames())
	res, err := n.Dispatcher.Call(context.Background(), "echo", plugin.Call{Args: plugin.Args{"v": 7}})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Value)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxThreads = 0
	_, err := New(context.Background(), cfg)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	cfg = testConfig(t)
	cfg.Plugins = []string{"reverb"}
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
