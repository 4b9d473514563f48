package repository

import (
	"context"

	"nendo/core/query"
	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrackRepository is the data access interface for tracks.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	// GetByID returns nil, nil when the track does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Track, error)
	// GetByIDs loads the tracks with their projections, in the order of ids.
	// Missing ids are skipped and repeated ids repeat the track.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Track, error)
	Update(ctx context.Context, track *model.Track) error
	UpdateVisibility(ctx context.Context, id uuid.UUID, v model.Visibility) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByChecksum(ctx context.Context, userID uuid.UUID, checksum string) (*model.Track, error)
	IDs(ctx context.Context, filter query.TrackFilter) ([]uuid.UUID, error)
	Count(ctx context.Context, filter query.TrackFilter) (int64, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a gorm track repository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

func preloadTrack(db *gorm.DB) *gorm.DB {
	return db.
		Preload("PluginData", func(db *gorm.DB) *gorm.DB {
			return db.Order("updated_at ASC")
		}).
		Preload("RelatedTracks").
		Preload("RelatedCollections", func(db *gorm.DB) *gorm.DB {
			return db.Order("relationship_position ASC")
		})
}

func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	return r.db.WithContext(ctx).Omit("PluginData", "RelatedTracks", "RelatedCollections").Create(track).Error
}

func (r *gormTrackRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Scopes(preloadTrack).Where("id = ?", id).First(&track).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

func (r *gormTrackRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*model.Track
	if err := r.db.WithContext(ctx).Scopes(preloadTrack).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Track, len(rows))
	for _, t := range rows {
		byID[t.ID] = t
	}
	out := make([]*model.Track, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *gormTrackRepository) Update(ctx context.Context, track *model.Track) error {
	return r.db.WithContext(ctx).Omit("PluginData", "RelatedTracks", "RelatedCollections").Save(track).Error
}

func (r *gormTrackRepository) UpdateVisibility(ctx context.Context, id uuid.UUID, v model.Visibility) error {
	return r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Update("visibility", v).Error
}

func (r *gormTrackRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Track{}).Error
}

func (r *gormTrackRepository) FindByChecksum(ctx context.Context, userID uuid.UUID, checksum string) (*model.Track, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("user_id = ?", userID).
		Where("visibility <> ?", model.VisibilityDeleted).
		Where(checksumMatch(r.db.Dialector.Name()), checksum).
		Order("created_at ASC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return r.GetByID(ctx, ids[0])
}

func checksumMatch(dialect string) string {
	if dialect == "mysql" {
		return "JSON_UNQUOTE(JSON_EXTRACT(resource, '$.meta.original_checksum')) = ?"
	}
	return "json_extract(resource, '$.meta.original_checksum') = ?"
}

func (r *gormTrackRepository) IDs(ctx context.Context, filter query.TrackFilter) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.Track{}).Scopes(filter.Apply).Pluck("tracks.id", &ids).Error
	return ids, err
}

func (r *gormTrackRepository) Count(ctx context.Context, filter query.TrackFilter) (int64, error) {
	filter.OrderBy, filter.Order = "", ""
	filter.Limit, filter.Offset = 0, 0
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).Scopes(filter.Apply, func(db *gorm.DB) *gorm.DB {
		delete(db.Statement.Clauses, "ORDER BY")
		return db
	}).Count(&n).Error
	return n, err
}

func (r *gormTrackRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Track{}).Error
}
