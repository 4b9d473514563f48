package repository

import (
	"context"

	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BlobRepository is the data access interface for blobs.
type BlobRepository interface {
	Create(ctx context.Context, b *model.Blob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Blob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Blob, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type gormBlobRepository struct {
	db *gorm.DB
}

// NewGormBlobRepository creates a gorm blob repository.
func NewGormBlobRepository(db *gorm.DB) BlobRepository {
	return &gormBlobRepository{db: db}
}

func (r *gormBlobRepository) Create(ctx context.Context, b *model.Blob) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *gormBlobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Blob, error) {
	var b model.Blob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *gormBlobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Blob{}).Error
}

func (r *gormBlobRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Blob, error) {
	var out []model.Blob
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&out).Error
	return out, err
}

func (r *gormBlobRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Blob{}).Error
}
