package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"nendo/core/audio"
	"nendo/core/batch"
	"nendo/errs"
	"nendo/logger"
	"nendo/model"
	"nendo/repository"
	"nendo/storage"

	"github.com/google/uuid"
)

// TrackOptions control how a track is created. Zero values fall back to the
// library defaults.
type TrackOptions struct {
	UserID        uuid.UUID
	TrackType     string
	Visibility    model.Visibility
	Meta          map[string]interface{}
	CopyToLibrary *bool
	SkipDuplicate *bool
}

// RelationshipOptions describe the edge created alongside a related entity.
type RelationshipOptions struct {
	TrackOptions
	RelationshipType string
	RelationshipMeta map[string]interface{}
}

func (o RelationshipOptions) relationshipType() string {
	if o.RelationshipType == "" {
		return model.DefaultRelationshipType
	}
	return o.RelationshipType
}

// RemoveTrackOptions select which dependents RemoveTrack may delete.
type RemoveTrackOptions struct {
	RemoveRelationships bool
	RemovePluginData    bool
	RemoveResources     bool
	UserID              uuid.UUID
}

func (l *Library) newTrack(owner uuid.UUID, opts TrackOptions, res model.Resource) *model.Track {
	trackType := opts.TrackType
	if trackType == "" {
		trackType = model.DefaultTrackType
	}
	visibility := opts.Visibility
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	meta := model.JSONMap{}
	meta.Merge(opts.Meta)
	return &model.Track{
		ID:         uuid.New(),
		UserID:     owner,
		TrackType:  trackType,
		Visibility: visibility,
		Resource:   res,
		Meta:       meta,
	}
}

// prepareFromFile stores the file behind a new track and builds the unsaved
// track. When dedup is on and the owner already has a track with the same
// checksum, that track is returned with existing set.
func (l *Library) prepareFromFile(ctx context.Context, path string, opts TrackOptions) (track *model.Track, existing bool, err error) {
	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		return nil, false, errs.Resource(path, "file not found")
	}
	if !audio.IsSupported(path) {
		return nil, false, errs.Resource(path, "unsupported filetype")
	}
	owner := l.user(opts.UserID)

	checksum, err := storage.MD5File(path)
	if err != nil {
		return nil, false, errs.Resource(path, err.Error())
	}
	if boolOr(opts.SkipDuplicate, l.opts.SkipDuplicate) {
		dup, err := l.repos(ctx).Tracks.FindByChecksum(ctx, owner, checksum)
		if err != nil {
			return nil, false, errs.Library("find duplicate", err)
		}
		if dup != nil {
			logger.Info("[Library] Track already in library, skipping", logger.String("path", path), logger.String("track_id", dup.ID.String()))
			return dup, true, nil
		}
	}

	meta := model.JSONMap{}
	meta.Merge(opts.Meta)
	resMeta := model.JSONMap{}
	sampleRate := 0
	if info, err := l.loader.Probe(ctx, path); err == nil {
		sampleRate = info.SampleRate
		if _, ok := meta["duration"]; !ok && info.Duration > 0 {
			meta["duration"] = info.Duration
		}
	} else {
		logger.Debug("[Library] Probing failed", logger.String("path", path), logger.ErrorField(err))
	}

	var res model.Resource
	if boolOr(opts.CopyToLibrary, l.opts.CopyToLibrary) {
		res, sampleRate, err = l.storeFile(ctx, path, owner.String(), sampleRate)
		if err != nil {
			return nil, false, errs.Library("copy file to library", err)
		}
	} else {
		abs, _ := filepath.Abs(path)
		res = model.NewResource(filepath.Dir(abs), filepath.Base(abs), model.ResourceAudio, model.LocationOriginal, nil)
	}
	if sampleRate > 0 {
		meta["sr"] = sampleRate
		resMeta["sr"] = sampleRate
	}
	resMeta.Merge(map[string]interface{}{
		"original_filename": filepath.Base(path),
		"original_filepath": filepath.Dir(path),
		"original_size":     stat.Size(),
		"original_checksum": checksum,
	})
	res.Meta.Merge(resMeta)
	if v, ok := meta["title"]; !ok || v == nil {
		meta["title"] = filepath.Base(path)
	}

	o := opts
	o.Meta = meta
	return l.newTrack(owner, o, res), false, nil
}

// storeFile saves path through the driver. Non-wav files are converted to
// wav at the default sample rate when auto conversion is on; if that fails
// the file is kept in its own format.
func (l *Library) storeFile(ctx context.Context, path, owner string, sampleRate int) (model.Resource, int, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if l.opts.AutoConvert && ext != "wav" {
		sig, err := l.loader.Load(ctx, path, l.opts.DefaultSR)
		if err == nil {
			name := l.driver.GenerateFilename("wav", owner)
			if _, err := l.driver.SaveSignal(ctx, name, sig, owner); err != nil {
				return model.Resource{}, 0, err
			}
			return model.NewResource(l.driver.FilePath(owner), name, model.ResourceAudio, l.driver.Location(), nil), sig.SampleRate, nil
		}
		logger.Warn("[Library] Conversion failed, keeping original format", logger.String("path", path), logger.ErrorField(err))
	}
	name := l.driver.GenerateFilename(ext, owner)
	if _, err := l.driver.SaveFile(ctx, name, path, owner); err != nil {
		return model.Resource{}, 0, err
	}
	return model.NewResource(l.driver.FilePath(owner), name, model.ResourceAudio, l.driver.Location(), nil), sampleRate, nil
}

func (l *Library) prepareFromSignal(ctx context.Context, sig *audio.Signal, opts TrackOptions) (*model.Track, error) {
	if sig == nil {
		return nil, errs.Resource("signal", "empty signal")
	}
	if err := sig.Validate(); err != nil {
		return nil, errs.Resource("signal", err.Error())
	}
	owner := l.user(opts.UserID)
	name := l.driver.GenerateFilename("wav", owner.String())
	if _, err := l.driver.SaveSignal(ctx, name, sig, owner.String()); err != nil {
		return nil, errs.Library("write signal", fmt.Errorf("failed writing file %s to the library: %w", name, err))
	}
	res := model.NewResource(l.driver.FilePath(owner.String()), name, model.ResourceAudio, l.driver.Location(), model.JSONMap{"sr": sig.SampleRate})
	meta := model.JSONMap{"sr": sig.SampleRate, "duration": sig.Seconds()}
	meta.Merge(opts.Meta)
	o := opts
	o.Meta = meta
	return l.newTrack(owner, o, res), nil
}

// AddTrack imports the audio file at path.
func (l *Library) AddTrack(ctx context.Context, path string, opts TrackOptions) (*model.Track, error) {
	track, existing, err := l.prepareFromFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if existing {
		return track, nil
	}
	if err := l.transaction(ctx, "add track", func(r *repository.Repositories) error {
		return r.Tracks.Create(ctx, track)
	}); err != nil {
		l.discardStored(ctx, track)
		return nil, err
	}
	return l.GetTrack(ctx, track.ID)
}

// discardStored removes the file written for a track whose row was never
// committed. Files left in their original place are not touched.
func (l *Library) discardStored(ctx context.Context, track *model.Track) {
	if track.Resource.Location == model.LocationOriginal {
		return
	}
	if !l.driver.RemoveFile(ctx, track.Resource.FileName, track.UserID.String()) {
		logger.Warn("[Library] Could not remove file of uncommitted track", logger.String("file", track.Resource.FileName))
	}
}

// AddTrackFromSignal writes sig into the library and creates a track for it.
func (l *Library) AddTrackFromSignal(ctx context.Context, sig *audio.Signal, opts TrackOptions) (*model.Track, error) {
	track, err := l.prepareFromSignal(ctx, sig, opts)
	if err != nil {
		return nil, err
	}
	if err := l.transaction(ctx, "add track from signal", func(r *repository.Repositories) error {
		return r.Tracks.Create(ctx, track)
	}); err != nil {
		l.discardStored(ctx, track)
		return nil, err
	}
	l.signals.Set(track.ID, sig)
	return l.GetTrack(ctx, track.ID)
}

// AddRelatedTrack imports path and links the new track to relatedID.
func (l *Library) AddRelatedTrack(ctx context.Context, path string, relatedID uuid.UUID, opts RelationshipOptions) (*model.Track, error) {
	track, existing, err := l.prepareFromFile(ctx, path, opts.TrackOptions)
	if err != nil {
		return nil, err
	}
	return l.addRelated(ctx, track, !existing, relatedID, opts)
}

// AddRelatedTrackFromSignal stores sig as a new track linked to relatedID.
func (l *Library) AddRelatedTrackFromSignal(ctx context.Context, sig *audio.Signal, relatedID uuid.UUID, opts RelationshipOptions) (*model.Track, error) {
	track, err := l.prepareFromSignal(ctx, sig, opts.TrackOptions)
	if err != nil {
		return nil, err
	}
	return l.addRelated(ctx, track, true, relatedID, opts)
}

func (l *Library) addRelated(ctx context.Context, track *model.Track, create bool, relatedID uuid.UUID, opts RelationshipOptions) (*model.Track, error) {
	err := l.transaction(ctx, "add related track", func(r *repository.Repositories) error {
		related, err := r.Tracks.GetByID(ctx, relatedID)
		if err != nil {
			return err
		}
		if related == nil {
			return errs.NotFound("Track", relatedID)
		}
		if create {
			if err := r.Tracks.Create(ctx, track); err != nil {
				return err
			}
		}
		return r.Relationships.CreateTrackRelationship(ctx, &model.TrackTrackRelationship{
			ID:               uuid.New(),
			SourceID:         track.ID,
			TargetID:         relatedID,
			RelationshipType: opts.relationshipType(),
			Meta:             model.JSONMap(opts.RelationshipMeta).Clone(),
		})
	})
	if err != nil {
		if create {
			l.discardStored(ctx, track)
		}
		return nil, err
	}
	return l.GetTrack(ctx, track.ID)
}

// AddTrackRelationship links two existing tracks. The edge is directed from
// sourceID to targetID.
func (l *Library) AddTrackRelationship(ctx context.Context, sourceID, targetID uuid.UUID, opts RelationshipOptions) (*model.TrackTrackRelationship, error) {
	rel := &model.TrackTrackRelationship{
		ID:               uuid.New(),
		SourceID:         sourceID,
		TargetID:         targetID,
		RelationshipType: opts.relationshipType(),
		Meta:             model.JSONMap(opts.RelationshipMeta).Clone(),
	}
	err := l.transaction(ctx, "add track relationship", func(r *repository.Repositories) error {
		for _, id := range []uuid.UUID{sourceID, targetID} {
			t, err := r.Tracks.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if t == nil {
				return errs.NotFound("Track", id)
			}
		}
		return r.Relationships.CreateTrackRelationship(ctx, rel)
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

type indexedPath struct {
	index int
	path  string
}

type indexedTrack struct {
	index int
	track *model.Track
}

// AddTracks imports every supported file below dir on the batch runner and
// returns a collection named after the directory holding them in file name
// order. Files that fail to import are logged and left out.
func (l *Library) AddTracks(ctx context.Context, dir string, opts TrackOptions) (*model.Collection, error) {
	var paths []indexedPath
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && audio.IsSupported(p) {
			paths = append(paths, indexedPath{index: len(paths), path: p})
		}
		return nil
	})
	if err != nil {
		return nil, errs.Resource(dir, err.Error())
	}

	results, err := batch.Run(ctx, l.runner, paths, func(ctx context.Context, ip indexedPath) (indexedTrack, error) {
		track, err := l.AddTrack(ctx, ip.path, opts)
		if err != nil {
			logger.Error("[Library] Failed to import file", logger.String("path", ip.path), logger.ErrorField(err))
			return indexedTrack{index: ip.index}, nil
		}
		return indexedTrack{index: ip.index, track: track}, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	ids := make([]uuid.UUID, 0, len(results))
	for _, res := range results {
		if res.track != nil {
			ids = append(ids, res.track.ID)
		}
	}
	return l.AddCollection(ctx, filepath.Base(filepath.Clean(dir)), ids, CollectionOptions{UserID: opts.UserID})
}

// GetTrack returns the track with its plugin data and relationships.
func (l *Library) GetTrack(ctx context.Context, id uuid.UUID) (*model.Track, error) {
	track, err := l.repos(ctx).Tracks.GetByID(ctx, id)
	if err != nil {
		return nil, errs.Library("get track", err)
	}
	if track == nil {
		return nil, errs.NotFound("Track", id)
	}
	return track, nil
}

// UpdateTrack persists the track's own columns. Relationships and plugin
// data carried by the struct are ignored.
func (l *Library) UpdateTrack(ctx context.Context, track *model.Track) (*model.Track, error) {
	err := l.transaction(ctx, "update track", func(r *repository.Repositories) error {
		current, err := r.Tracks.GetByID(ctx, track.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return errs.NotFound("Track", track.ID)
		}
		if current.Visibility == model.VisibilityDeleted && track.Visibility != model.VisibilityDeleted {
			return fmt.Errorf("track %s is deleted", track.ID)
		}
		return r.Tracks.Update(ctx, track)
	})
	if err != nil {
		return nil, err
	}
	return l.GetTrack(ctx, track.ID)
}

// SetTrackVisibility moves a track between public and private. Deleted is
// terminal.
func (l *Library) SetTrackVisibility(ctx context.Context, id uuid.UUID, v model.Visibility) error {
	if !v.Valid() {
		return fmt.Errorf("unknown visibility %q", v)
	}
	return l.transaction(ctx, "set track visibility", func(r *repository.Repositories) error {
		track, err := r.Tracks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if track == nil {
			return errs.NotFound("Track", id)
		}
		if track.Visibility == model.VisibilityDeleted && v != model.VisibilityDeleted {
			return fmt.Errorf("track %s is deleted", id)
		}
		return r.Tracks.UpdateVisibility(ctx, id, v)
	})
}

// RemoveTrack deletes a track. When dependents exist whose removal flag is
// off nothing is changed and false is returned. Collection memberships are
// removed with position repair. Removing the stored file is best effort.
func (l *Library) RemoveTrack(ctx context.Context, id uuid.UUID, opts RemoveTrackOptions) (bool, error) {
	var track *model.Track
	refused := false
	err := l.transaction(ctx, "remove track", func(r *repository.Repositories) error {
		var err error
		track, err = r.Tracks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if track == nil {
			return errs.NotFound("Track", id)
		}
		if opts.UserID != uuid.Nil && track.UserID != opts.UserID {
			return errs.NotFound("Track", id)
		}

		rels, err := r.Relationships.TrackRelationships(ctx, id)
		if err != nil {
			return err
		}
		memberships, err := r.Relationships.MembershipsOfTrack(ctx, id)
		if err != nil {
			return err
		}
		pdCount, err := r.PluginData.CountByTrack(ctx, id)
		if err != nil {
			return err
		}
		embeddings, err := r.Embeddings.List(ctx, repository.EmbeddingQuery{TrackIDs: []uuid.UUID{id}})
		if err != nil {
			return err
		}

		if (len(rels) > 0 || len(memberships) > 0) && !opts.RemoveRelationships {
			logger.Warn("[Library] Track has relationships, not removing", logger.String("track_id", id.String()),
				logger.Int("relationships", len(rels)), logger.Int("collections", len(memberships)))
			refused = true
			return nil
		}
		if (pdCount > 0 || len(embeddings) > 0) && !opts.RemovePluginData {
			logger.Warn("[Library] Track has plugin data, not removing", logger.String("track_id", id.String()),
				logger.Int64("plugin_data", pdCount), logger.Int("embeddings", len(embeddings)))
			refused = true
			return nil
		}

		// memberships come ordered by collection, then descending position,
		// so each repair shift leaves the next row's position valid
		for _, m := range memberships {
			if err := removeMembership(ctx, r, m); err != nil {
				return err
			}
		}
		if err := r.Relationships.DeleteTrackRelationships(ctx, id); err != nil {
			return err
		}
		if err := r.PluginData.DeleteByTrack(ctx, id); err != nil {
			return err
		}
		if err := r.Embeddings.DeleteByTrack(ctx, id); err != nil {
			return err
		}
		return r.Tracks.Delete(ctx, id)
	})
	if err != nil {
		return false, err
	}
	if refused {
		return false, nil
	}

	l.signals.Remove(id)
	if opts.RemoveResources && track.Resource.Location != model.LocationOriginal {
		if !l.driver.RemoveFile(ctx, track.Resource.FileName, track.UserID.String()) {
			logger.Warn("[Library] Could not remove track resource", logger.String("track_id", id.String()),
				logger.String("file", track.Resource.Src()))
		}
	}
	return true, nil
}

func removeMembership(ctx context.Context, r *repository.Repositories, m model.TrackCollectionRelationship) error {
	if err := r.Relationships.DeleteMembership(ctx, m.ID); err != nil {
		return err
	}
	return r.Relationships.ShiftPositions(ctx, m.TargetID, m.Position+1, -1)
}

// LoadSignal decodes the audio of track, consulting the signal cache first.
func (l *Library) LoadSignal(ctx context.Context, track *model.Track) (*audio.Signal, error) {
	if sig, ok := l.signals.Get(track.ID); ok {
		l.metrics.RecordSignalCache(true)
		return sig, nil
	}
	l.metrics.RecordSignalCache(false)

	local, err := l.driver.AsLocal(ctx, track.Resource.Src(), track.Resource.Location, track.UserID.String())
	if err != nil {
		return nil, errs.Resource(track.Resource.Src(), err.Error())
	}
	sig, err := l.loader.Load(ctx, local, 0)
	if err != nil {
		return nil, errs.Resource(local, err.Error())
	}
	l.signals.Set(track.ID, sig)
	return sig, nil
}

// LibrarySize counts the non deleted tracks of owner, or of the library user
// when owner is uuid.Nil.
func (l *Library) LibrarySize(ctx context.Context, owner uuid.UUID) (int64, error) {
	n, err := l.repos(ctx).Tracks.Count(ctx, TrackQuery{UserID: l.user(owner)})
	return n, errs.Library("library size", err)
}

// Reset deletes every entity owned by the library user, then the stored
// files once the deletion is committed. It refuses to run unless force is set.
func (l *Library) Reset(ctx context.Context, force bool) error {
	if !force {
		return fmt.Errorf("reset needs force to delete all data of user %s", l.opts.UserID)
	}
	owner := l.opts.UserID
	files, err := l.driver.ListFiles(ctx, owner.String())
	if err != nil {
		logger.Warn("[Library] Listing stored files failed", logger.ErrorField(err))
	}

	err = l.transaction(ctx, "reset", func(r *repository.Repositories) error {
		// relationships first, their cleanup selects through tracks and collections
		if err := r.Relationships.DeleteByUser(ctx, owner); err != nil {
			return err
		}
		if err := r.PluginData.DeleteByUser(ctx, owner); err != nil {
			return err
		}
		if err := r.Embeddings.DeleteByUser(ctx, owner); err != nil {
			return err
		}
		if err := r.Blobs.DeleteByUser(ctx, owner); err != nil {
			return err
		}
		if err := r.Collections.DeleteByUser(ctx, owner); err != nil {
			return err
		}
		return r.Tracks.DeleteByUser(ctx, owner)
	})
	if err != nil {
		return err
	}
	// rows are gone, files go best effort
	for _, f := range files {
		if !l.driver.RemoveFile(ctx, f, owner.String()) {
			logger.Warn("[Library] Could not remove stored file", logger.String("file", f))
		}
	}
	logger.Info("[Library] Library reset", logger.String("user_id", owner.String()), logger.Int("files", len(files)))
	return nil
}
