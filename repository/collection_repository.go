package repository

import (
	"context"

	"nendo/core/query"
	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CollectionRepository is the data access interface for collections.
type CollectionRepository interface {
	Create(ctx context.Context, c *model.Collection) error
	// GetByID returns nil, nil when the collection does not exist. Members are
	// loaded in position order.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Collection, error)
	List(ctx context.Context, filter query.CollectionFilter) ([]*model.Collection, error)
	Update(ctx context.Context, c *model.Collection) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type gormCollectionRepository struct {
	db *gorm.DB
}

// NewGormCollectionRepository creates a gorm collection repository.
func NewGormCollectionRepository(db *gorm.DB) CollectionRepository {
	return &gormCollectionRepository{db: db}
}

func preloadCollection(db *gorm.DB) *gorm.DB {
	return db.
		Preload("RelatedTracks", func(db *gorm.DB) *gorm.DB {
			return db.Order("relationship_position ASC")
		}).
		Preload("RelatedCollections")
}

func (r *gormCollectionRepository) Create(ctx context.Context, c *model.Collection) error {
	return r.db.WithContext(ctx).Omit("RelatedTracks", "RelatedCollections").Create(c).Error
}

func (r *gormCollectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Collection, error) {
	var c model.Collection
	err := r.db.WithContext(ctx).Scopes(preloadCollection).Where("id = ?", id).First(&c).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormCollectionRepository) List(ctx context.Context, filter query.CollectionFilter) ([]*model.Collection, error) {
	var out []*model.Collection
	err := r.db.WithContext(ctx).Model(&model.Collection{}).Scopes(filter.Apply, preloadCollection).Find(&out).Error
	return out, err
}

func (r *gormCollectionRepository) Update(ctx context.Context, c *model.Collection) error {
	return r.db.WithContext(ctx).Omit("RelatedTracks", "RelatedCollections").Save(c).Error
}

func (r *gormCollectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Collection{}).Error
}

func (r *gormCollectionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Collection{}).Error
}

func (r *gormCollectionRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Collection{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}
