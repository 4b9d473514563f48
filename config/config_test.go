package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "nendo_library", cfg.LibraryPath)
	assert.Equal(t, "ffffffff-1111-2222-3333-1234567890ab", cfg.UserID)
	assert.Equal(t, 44100, cfg.DefaultSR)
	assert.True(t, cfg.SkipDuplicate)
	assert.True(t, cfg.CopyToLibrary)
	assert.False(t, cfg.ReplacePluginData)
	assert.Equal(t, 2, cfg.MaxThreads)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 1, cfg.StreamChunkSize)
	assert.Equal(t, DistanceCosine, cfg.DefaultDistance)
	assert.Equal(t, filepath.Join("nendo_library", "nendo.db"), cfg.SQLitePath())
	require.NoError(t, cfg.Validate())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nendo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_threads: 8\nbatch_size: 3\nlibrary_path: /srv/lib\n"), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	t.Setenv("NENDO_MAX_THREADS", "4")
	t.Setenv("NENDO_SIGNAL_CACHE_TTL", "90s")
	t.Setenv("NENDO_PLUGINS", "nendo_plugin_classify_core, nendo_plugin_embed_clap")

	cfg := load(source{env: true, file: v})
	assert.Equal(t, 4, cfg.MaxThreads)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, "/srv/lib", cfg.LibraryPath)
	assert.Equal(t, 90*time.Second, cfg.SignalCacheTTL)
	assert.Equal(t, []string{"nendo_plugin_classify_core", "nendo_plugin_embed_clap"}, cfg.Plugins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threads", func(c *Config) { c.MaxThreads = 0 }},
		{"batch size", func(c *Config) { c.BatchSize = -1 }},
		{"chunk size", func(c *Config) { c.StreamChunkSize = 0 }},
		{"sample rate", func(c *Config) { c.DefaultSR = 0 }},
		{"distance", func(c *Config) { c.DefaultDistance = "manhattan" }},
		{"storage", func(c *Config) { c.StorageDriver = "gcs" }},
		{"library plugin", func(c *Config) { c.LibraryPlugin = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
