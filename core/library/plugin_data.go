package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nendo/errs"
	"nendo/logger"
	"nendo/model"
	"nendo/repository"

	"github.com/google/uuid"
)

const blobContentJSON = "application/json"

// PluginDataInput is one plugin data write. Value may be a scalar, which is
// stored as text, a numeric slice, stored as a JSON blob, or raw bytes,
// stored as a binary blob. Nil Replace uses the library default.
type PluginDataInput struct {
	TrackID       uuid.UUID
	UserID        uuid.UUID
	PluginName    string
	PluginVersion string
	Key           string
	Value         interface{}
	Replace       *bool
}

// PluginDataQuery selects plugin data rows.
type PluginDataQuery = repository.PluginDataQuery

// blobPayload reports whether v must be stored in a blob and returns its
// serialized form.
func blobPayload(v interface{}) ([]byte, string, bool, error) {
	switch val := v.(type) {
	case []byte:
		return val, "application/octet-stream", true, nil
	case []float32, []float64, []int, []int32, []int64, [][]float32, [][]float64:
		b, err := json.Marshal(val)
		return b, blobContentJSON, true, err
	}
	return nil, "", false, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case map[string]interface{}, []interface{}, []string:
		b, err := json.Marshal(val)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%v", v)
}

// AddPluginData stores a value a plugin computed for a track. With replace
// the most recently updated row of the same track, plugin, version and key
// is overwritten, and a blob only the old value referenced is deleted;
// otherwise a new row is always inserted.
func (l *Library) AddPluginData(ctx context.Context, in PluginDataInput) (*model.PluginData, error) {
	if in.Key == "" {
		return nil, fmt.Errorf("plugin data needs a key")
	}
	replace := boolOr(in.Replace, l.opts.ReplacePluginData)

	var (
		pd           *model.PluginData
		fresh, stale *model.Blob
	)
	err := l.transaction(ctx, "add plugin data", func(r *repository.Repositories) error {
		track, err := r.Tracks.GetByID(ctx, in.TrackID)
		if err != nil {
			return err
		}
		if track == nil {
			return errs.NotFound("Track", in.TrackID)
		}
		owner := in.UserID
		if owner == uuid.Nil {
			owner = track.UserID
		}

		value := formatValue(in.Value)
		if data, contentType, ok, err := blobPayload(in.Value); err != nil {
			return err
		} else if ok {
			if fresh, err = l.saveBlob(ctx, r, data, contentType, owner); err != nil {
				return err
			}
			value = fresh.ID.String()
		}

		if replace {
			latest, err := r.PluginData.Latest(ctx, repository.PluginDataQuery{
				TrackID:       in.TrackID,
				PluginName:    in.PluginName,
				PluginVersion: in.PluginVersion,
				Key:           in.Key,
			})
			if err != nil {
				return err
			}
			if latest != nil {
				prev := latest.Value
				latest.Value = value
				pd = latest
				if err := r.PluginData.Update(ctx, latest); err != nil {
					return err
				}
				if prev == value {
					return nil
				}
				stale, err = releaseBlob(ctx, r, prev)
				return err
			}
		}
		pd = &model.PluginData{
			ID:            uuid.New(),
			TrackID:       in.TrackID,
			UserID:        owner,
			PluginName:    in.PluginName,
			PluginVersion: in.PluginVersion,
			Key:           in.Key,
			Value:         value,
		}
		return r.PluginData.Create(ctx, pd)
	})
	if err != nil {
		if fresh != nil {
			l.driver.RemoveFile(ctx, fresh.Resource.FileName, fresh.UserID.String())
		}
		return nil, err
	}
	if stale != nil && !l.driver.RemoveFile(ctx, stale.Resource.FileName, stale.UserID.String()) {
		logger.Warn("[Library] Could not remove replaced blob resource", logger.String("blob_id", stale.ID.String()))
	}
	return pd, nil
}

// releaseBlob deletes the blob a replaced value pointed at once no plugin
// data row references it anymore. The returned blob's file is the caller's
// to remove after commit.
func releaseBlob(ctx context.Context, r *repository.Repositories, value string) (*model.Blob, error) {
	id, err := uuid.Parse(value)
	if err != nil || len(value) != 36 {
		return nil, nil
	}
	blob, err := r.Blobs.GetByID(ctx, id)
	if err != nil || blob == nil {
		return nil, err
	}
	refs, err := r.PluginData.CountByValue(ctx, value)
	if err != nil || refs > 0 {
		return nil, err
	}
	if err := r.Blobs.Delete(ctx, id); err != nil {
		return nil, err
	}
	return blob, nil
}

// GetPluginData lists plugin data rows, oldest update first.
func (l *Library) GetPluginData(ctx context.Context, q PluginDataQuery) ([]model.PluginData, error) {
	rows, err := l.repos(ctx).PluginData.List(ctx, q)
	return rows, errs.Library("get plugin data", err)
}

// GetPluginDataValue returns the value of pd. Values holding a blob id are
// resolved to the blob payload: numeric slices decode to []float64, anything
// else is returned as bytes.
func (l *Library) GetPluginDataValue(ctx context.Context, pd model.PluginData) (interface{}, error) {
	id, err := uuid.Parse(pd.Value)
	if err != nil || len(pd.Value) != 36 {
		return pd.Value, nil
	}
	blob, err := l.LoadBlob(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return pd.Value, nil
		}
		return nil, err
	}
	if blob.Resource.Meta["content_type"] == blobContentJSON {
		var vec []float64
		if err := json.Unmarshal(blob.Data, &vec); err == nil {
			return vec, nil
		}
		var raw interface{}
		if err := json.Unmarshal(blob.Data, &raw); err == nil {
			return raw, nil
		}
	}
	return blob.Data, nil
}

// RemovePluginData deletes one plugin data row.
func (l *Library) RemovePluginData(ctx context.Context, id uuid.UUID) (bool, error) {
	err := l.transaction(ctx, "remove plugin data", func(r *repository.Repositories) error {
		pd, err := r.PluginData.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if pd == nil {
			return errs.NotFound("PluginData", id)
		}
		return r.PluginData.Delete(ctx, id)
	})
	return err == nil, err
}

func (l *Library) saveBlob(ctx context.Context, r *repository.Repositories, data []byte, contentType string, owner uuid.UUID) (*model.Blob, error) {
	ext := "bin"
	if contentType == blobContentJSON {
		ext = "json"
	}
	name := l.driver.GenerateFilename(ext, owner.String())
	if _, err := l.driver.SaveBytes(ctx, name, data, owner.String()); err != nil {
		return nil, fmt.Errorf("failed writing blob %s: %w", name, err)
	}
	blob := &model.Blob{
		ID:         uuid.New(),
		UserID:     owner,
		Resource:   model.NewResource(l.driver.FilePath(owner.String()), name, model.ResourceBlob, l.driver.Location(), model.JSONMap{"content_type": contentType}),
		Visibility: model.VisibilityPrivate,
	}
	if err := r.Blobs.Create(ctx, blob); err != nil {
		l.driver.RemoveFile(ctx, name, owner.String())
		return nil, err
	}
	return blob, nil
}

// StoreBlob copies the file at path into a new blob.
func (l *Library) StoreBlob(ctx context.Context, path string, owner uuid.UUID) (*model.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Resource(path, "file not found")
	}
	contentType := "application/octet-stream"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		contentType = blobContentJSON
	}
	return l.storeBlob(ctx, data, contentType, owner)
}

// StoreBlobFromBytes stores data in a new blob.
func (l *Library) StoreBlobFromBytes(ctx context.Context, data []byte, owner uuid.UUID) (*model.Blob, error) {
	return l.storeBlob(ctx, data, "application/octet-stream", owner)
}

func (l *Library) storeBlob(ctx context.Context, data []byte, contentType string, owner uuid.UUID) (*model.Blob, error) {
	var blob *model.Blob
	err := l.transaction(ctx, "store blob", func(r *repository.Repositories) error {
		var err error
		blob, err = l.saveBlob(ctx, r, data, contentType, l.user(owner))
		return err
	})
	if err != nil {
		return nil, err
	}
	blob.Data = data
	return blob, nil
}

// LoadBlob returns the blob with its payload.
func (l *Library) LoadBlob(ctx context.Context, id uuid.UUID) (*model.Blob, error) {
	blob, err := l.repos(ctx).Blobs.GetByID(ctx, id)
	if err != nil {
		return nil, errs.Library("load blob", err)
	}
	if blob == nil {
		return nil, errs.NotFound("Blob", id)
	}
	data, err := l.driver.GetBytes(ctx, blob.Resource.FileName, blob.UserID.String())
	if err != nil {
		return nil, errs.Resource(blob.Resource.Src(), err.Error())
	}
	blob.Data = data
	return blob, nil
}

// RemoveBlob deletes a blob row and, with removeResources, its file.
func (l *Library) RemoveBlob(ctx context.Context, id uuid.UUID, removeResources bool) (bool, error) {
	var blob *model.Blob
	err := l.transaction(ctx, "remove blob", func(r *repository.Repositories) error {
		var err error
		blob, err = r.Blobs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if blob == nil {
			return errs.NotFound("Blob", id)
		}
		return r.Blobs.Delete(ctx, id)
	})
	if err != nil {
		return false, err
	}
	if removeResources && !l.driver.RemoveFile(ctx, blob.Resource.FileName, blob.UserID.String()) {
		logger.Warn("[Library] Could not remove blob resource", logger.String("blob_id", id.String()))
	}
	return true, nil
}
