// Package nendo wires the configured components into one context object.
package nendo

import (
	"context"
	"fmt"

	"nendo/cache"
	"nendo/config"
	"nendo/core/audio"
	"nendo/core/batch"
	"nendo/core/library"
	"nendo/core/plugin"
	"nendo/core/plugin/builtin"
	"nendo/db"
	"nendo/logger"
	"nendo/metrics"
	"nendo/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Nendo holds every long lived component. Build it with New and release it
// with Close.
type Nendo struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Storage    storage.Driver
	Signals    cache.SignalCache
	Metrics    *metrics.Metrics
	Runner     *batch.Runner
	Library    *library.Library
	Registry   *plugin.Registry
	Dispatcher *plugin.Dispatcher
}

type options struct {
	db         *gorm.DB
	driver     storage.Driver
	plugins    []*plugin.Plugin
	noBuiltins bool
}

// Option customizes New.
type Option func(*options)

// WithDB uses an already opened store instead of the configured one.
func WithDB(gdb *gorm.DB) Option {
	return func(o *options) { o.db = gdb }
}

// WithStorage uses driver instead of the configured storage driver.
func WithStorage(driver storage.Driver) Option {
	return func(o *options) { o.driver = driver }
}

// WithPlugins registers extra plugins after the builtins.
func WithPlugins(plugins ...*plugin.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, plugins...) }
}

// WithoutBuiltins skips the builtin plugins.
func WithoutBuiltins() Option {
	return func(o *options) { o.noBuiltins = true }
}

// New validates cfg and builds the components in dependency order.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Nendo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	n := &Nendo{
		Config:  cfg,
		Metrics: metrics.New(),
		Runner:  batch.NewRunner(cfg.MaxThreads, cfg.BatchSize),
	}
	n.Runner.Metrics = n.Metrics

	n.DB = o.db
	if n.DB == nil {
		gdb, err := db.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open library store: %w", err)
		}
		n.DB = gdb
	}

	n.Storage = o.driver
	if n.Storage == nil {
		driver, err := storage.New(ctx, cfg)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to init storage: %w", err)
		}
		n.Storage = driver
	}

	local := cache.NewLRUSignalCache(cfg.SignalCacheSize)
	n.Signals = local
	client, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Warn("[Nendo] Redis unavailable, using in-process signal cache only", logger.ErrorField(err))
	} else if client != nil {
		n.Redis = client
		n.Signals = cache.NewRedisSignalCache(local, client, cfg.SignalCacheTTL)
	}

	libOpts, err := library.OptionsFromConfig(cfg)
	if err != nil {
		n.Close()
		return nil, err
	}
	loader := audio.NewLoader(audio.NewFFmpegProcessor(cfg.FFmpegPath), cfg.AutoConvert)
	n.Library = library.New(n.DB, n.Storage, libOpts,
		library.WithLoader(loader),
		library.WithSignalCache(n.Signals),
		library.WithMetrics(n.Metrics),
		library.WithRunner(n.Runner))

	if _, err := n.Library.EnsureDefaultUser(ctx); err != nil {
		n.Close()
		return nil, err
	}

	n.Registry = plugin.NewRegistry()
	var plugins []*plugin.Plugin
	if !o.noBuiltins {
		if plugins, err = builtin.Select(cfg.Plugins); err != nil {
			n.Close()
			return nil, err
		}
	}
	for _, p := range append(plugins, o.plugins...) {
		if _, err := n.Registry.Add(p); err != nil {
			n.Close()
			return nil, err
		}
	}
	n.Dispatcher = plugin.NewDispatcher(n.Library, n.Registry, cfg, n.Runner, n.Metrics)

	logger.Info("[Nendo] Ready",
		logger.String("library", cfg.LibraryPath),
		logger.String("store", db.Dialect(n.DB)),
		logger.String("storage", cfg.StorageDriver),
		logger.Int("plugins", n.Registry.Len()))
	return n, nil
}

// Close releases the store and the redis client.
func (n *Nendo) Close() error {
	var firstErr error
	if n.Redis != nil {
		if err := n.Redis.Close(); err != nil {
			firstErr = err
		}
		n.Redis = nil
	}
	if n.DB != nil {
		if err := db.Close(n.DB); err != nil && firstErr == nil {
			firstErr = err
		}
		n.DB = nil
	}
	return firstErr
}
