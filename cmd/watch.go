package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"nendo/core/audio"
	"nendo/core/library"
	"nendo/core/nendo"
	"nendo/core/plugin"
	"nendo/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	watchSettle     time.Duration
	watchCollection string
	watchPlugins    []string
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Import audio files as they appear in a directory",
	Long: `Watch a directory and import every supported audio file written into it.
Imported tracks can be appended to a collection and run through plugins.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var collectionID uuid.UUID
		if watchCollection != "" {
			id, err := uuid.Parse(watchCollection)
			if err != nil {
				return fmt.Errorf("invalid collection id %q", watchCollection)
			}
			collectionID = id
		}
		return withNendo(ctx, func(n *nendo.Nendo) error {
			imp := &importer{n: n, collectionID: collectionID, plugins: watchPlugins}
			return watchDir(ctx, args[0], watchSettle, imp.importFile)
		})
	},
}

// watchDir calls handle for every supported file created or written below
// dir once it has been quiet for settle. It returns when ctx is done.
func watchDir(ctx context.Context, dir string, settle time.Duration, handle func(ctx context.Context, path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("[Watch] Watching directory", logger.String("dir", dir))

	tick := settle / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// path -> time of the last event
	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !audio.IsSupported(event.Name) {
				continue
			}
			pending[filepath.Clean(event.Name)] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Watch] Watcher error", logger.ErrorField(err))
		case now := <-ticker.C:
			for _, path := range settled(pending, now, settle) {
				delete(pending, path)
				handle(ctx, path)
			}
		}
	}
}

// settled returns the pending paths quiet for at least settle, sorted.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var out []string
	for path, last := range pending {
		if now.Sub(last) >= settle {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

type importer struct {
	n            *nendo.Nendo
	collectionID uuid.UUID
	plugins      []string
}

// importFile adds one file under the library lock, then files it into the
// collection and runs the configured plugins on it.
func (i *importer) importFile(ctx context.Context, path string) {
	unlock, err := lockLibrary(ctx, i.n.Config.LibraryPath)
	if err != nil {
		logger.Error("[Watch] Could not lock library", logger.String("path", path), logger.ErrorField(err))
		return
	}
	defer unlock()

	track, err := i.n.Library.AddTrack(ctx, path, library.TrackOptions{})
	if err != nil {
		logger.Error("[Watch] Import failed", logger.String("path", path), logger.ErrorField(err))
		return
	}
	logger.Info("[Watch] Imported track", logger.String("path", path), logger.String("track", track.ID.String()))

	if i.collectionID != uuid.Nil {
		if _, err := i.n.Library.AddTrackToCollection(ctx, track.ID, i.collectionID, nil); err != nil {
			logger.Error("[Watch] Could not add track to collection", logger.String("track", track.ID.String()), logger.ErrorField(err))
		}
	}
	for _, name := range i.plugins {
		if _, err := i.n.Dispatcher.Call(ctx, name, plugin.Call{TrackID: track.ID}); err != nil {
			logger.Error("[Watch] Plugin run failed", logger.String("plugin", name), logger.String("track", track.ID.String()), logger.ErrorField(err))
		}
	}
}

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "quiet period before a written file is imported")
	watchCmd.Flags().StringVar(&watchCollection, "collection", "", "append imported tracks to this collection")
	watchCmd.Flags().StringSliceVar(&watchPlugins, "run", nil, "plugins to run on every imported track")
	rootCmd.AddCommand(watchCmd)
}
