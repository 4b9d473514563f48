// Package library is the asset graph: tracks, collections, their
// relationships, plugin data, blobs and embeddings, persisted through gorm
// with files kept by a storage.Driver.
package library

import (
	"context"
	"fmt"
	"time"

	"nendo/cache"
	"nendo/config"
	"nendo/core/audio"
	"nendo/core/batch"
	"nendo/errs"
	"nendo/metrics"
	"nendo/repository"
	"nendo/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options are the library wide defaults. Per call options override them.
type Options struct {
	UserID            uuid.UUID
	UserName          string
	CopyToLibrary     bool
	AutoConvert       bool
	SkipDuplicate     bool
	ReplacePluginData bool
	DefaultSR         int
	StreamChunkSize   int
	DefaultDistance   string
}

// OptionsFromConfig maps the configuration onto library options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	userID, err := uuid.Parse(cfg.UserID)
	if err != nil {
		return Options{}, fmt.Errorf("invalid user id %q: %w", cfg.UserID, err)
	}
	return Options{
		UserID:            userID,
		UserName:          cfg.UserName,
		CopyToLibrary:     cfg.CopyToLibrary,
		AutoConvert:       cfg.AutoConvert,
		SkipDuplicate:     cfg.SkipDuplicate,
		ReplacePluginData: cfg.ReplacePluginData,
		DefaultSR:         cfg.DefaultSR,
		StreamChunkSize:   cfg.StreamChunkSize,
		DefaultDistance:   cfg.DefaultDistance,
	}, nil
}

// Library is the asset graph. It is safe for concurrent use; every mutating
// call runs in its own transaction.
type Library struct {
	db      *gorm.DB
	driver  storage.Driver
	opts    Options
	loader  *audio.Loader
	signals cache.SignalCache
	metrics *metrics.Metrics
	runner  *batch.Runner
}

// Option customizes a Library.
type Option func(*Library)

// WithLoader sets the audio loader used for probing, conversion and export.
func WithLoader(l *audio.Loader) Option {
	return func(lib *Library) { lib.loader = l }
}

// WithSignalCache sets the cache consulted by LoadSignal.
func WithSignalCache(c cache.SignalCache) Option {
	return func(lib *Library) { lib.signals = c }
}

// WithMetrics records operation counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lib *Library) { lib.metrics = m }
}

// WithRunner sets the batch runner used for directory imports.
func WithRunner(r *batch.Runner) Option {
	return func(lib *Library) { lib.runner = r }
}

// New creates a library on an already migrated database.
func New(db *gorm.DB, driver storage.Driver, opts Options, extra ...Option) *Library {
	if opts.StreamChunkSize <= 0 {
		opts.StreamChunkSize = 1
	}
	if opts.DefaultDistance == "" {
		opts.DefaultDistance = config.DistanceCosine
	}
	l := &Library{
		db:     db,
		driver: driver,
		opts:   opts,
	}
	for _, o := range extra {
		o(l)
	}
	if l.loader == nil {
		l.loader = audio.NewLoader(nil, opts.AutoConvert)
	}
	if l.signals == nil {
		l.signals = cache.NewLRUSignalCache(0)
	}
	if l.runner == nil {
		l.runner = batch.NewRunner(1, 10)
	}
	return l
}

// Options returns the library defaults.
func (l *Library) Options() Options {
	return l.opts
}

// Driver returns the storage driver.
func (l *Library) Driver() storage.Driver {
	return l.driver
}

// DB returns the underlying connection.
func (l *Library) DB() *gorm.DB {
	return l.db
}

func (l *Library) user(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return l.opts.UserID
	}
	return id
}

func (l *Library) repos(ctx context.Context) *repository.Repositories {
	return repository.New(l.db.WithContext(ctx))
}

// transaction runs fn with repositories bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (l *Library) transaction(ctx context.Context, op string, fn func(r *repository.Repositories) error) error {
	started := time.Now()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repository.New(tx))
	})
	err = errs.Library(op, err)
	l.metrics.RecordLibraryOp(op, started, err)
	return err
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
