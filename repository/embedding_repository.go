package repository

import (
	"context"

	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmbeddingQuery selects embeddings. Zero fields match everything.
type EmbeddingQuery struct {
	TrackIDs      []uuid.UUID
	UserID        uuid.UUID
	PluginName    string
	PluginVersion string
}

// EmbeddingRepository is the data access interface for embeddings.
type EmbeddingRepository interface {
	Create(ctx context.Context, e *model.Embedding) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Embedding, error)
	List(ctx context.Context, q EmbeddingQuery) ([]model.Embedding, error)
	Update(ctx context.Context, e *model.Embedding) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTrack(ctx context.Context, trackID uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type gormEmbeddingRepository struct {
	db *gorm.DB
}

// NewGormEmbeddingRepository creates a gorm embedding repository.
func NewGormEmbeddingRepository(db *gorm.DB) EmbeddingRepository {
	return &gormEmbeddingRepository{db: db}
}

func (r *gormEmbeddingRepository) Create(ctx context.Context, e *model.Embedding) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *gormEmbeddingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Embedding, error) {
	var e model.Embedding
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *gormEmbeddingRepository) List(ctx context.Context, q EmbeddingQuery) ([]model.Embedding, error) {
	db := r.db.WithContext(ctx)
	if len(q.TrackIDs) > 0 {
		db = db.Where("track_id IN ?", q.TrackIDs)
	}
	if q.UserID != uuid.Nil {
		db = db.Where("user_id = ?", q.UserID)
	}
	if q.PluginName != "" {
		db = db.Where("plugin_name = ?", q.PluginName)
	}
	if q.PluginVersion != "" {
		db = db.Where("plugin_version = ?", q.PluginVersion)
	}
	var out []model.Embedding
	err := db.Order("updated_at DESC").Find(&out).Error
	return out, err
}

func (r *gormEmbeddingRepository) Update(ctx context.Context, e *model.Embedding) error {
	return r.db.WithContext(ctx).Save(e).Error
}

func (r *gormEmbeddingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Embedding{}).Error
}

func (r *gormEmbeddingRepository) DeleteByTrack(ctx context.Context, trackID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("track_id = ?", trackID).Delete(&model.Embedding{}).Error
}

func (r *gormEmbeddingRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Embedding{}).Error
}
