package repository

import (
	"context"
	"database/sql"

	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RelationshipRepository covers the three relationship tables.
type RelationshipRepository interface {
	// track -> track
	CreateTrackRelationship(ctx context.Context, rel *model.TrackTrackRelationship) error
	TrackRelationships(ctx context.Context, trackID uuid.UUID) ([]model.TrackTrackRelationship, error)
	DeleteTrackRelationships(ctx context.Context, trackID uuid.UUID) error

	// track -> collection membership
	CreateMembership(ctx context.Context, rel *model.TrackCollectionRelationship) error
	// LastPosition returns -1 for an empty collection.
	LastPosition(ctx context.Context, collectionID uuid.UUID) (int, error)
	ShiftPositions(ctx context.Context, collectionID uuid.UUID, from, delta int) error
	// FindMembership returns the lowest positioned membership, or nil.
	FindMembership(ctx context.Context, trackID, collectionID uuid.UUID) (*model.TrackCollectionRelationship, error)
	DeleteMembership(ctx context.Context, id uuid.UUID) error
	MembershipsOfTrack(ctx context.Context, trackID uuid.UUID) ([]model.TrackCollectionRelationship, error)
	MembershipsOfCollection(ctx context.Context, collectionID uuid.UUID) ([]model.TrackCollectionRelationship, error)
	DeleteMembershipsOfCollection(ctx context.Context, collectionID uuid.UUID) error

	// collection -> collection
	CreateCollectionRelationship(ctx context.Context, rel *model.CollectionCollectionRelationship) error
	CollectionRelationships(ctx context.Context, collectionID uuid.UUID) ([]model.CollectionCollectionRelationship, error)
	DeleteCollectionRelationships(ctx context.Context, collectionID uuid.UUID) error

	// DeleteByUser drops every relationship touching a track or collection
	// owned by userID.
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type gormRelationshipRepository struct {
	db *gorm.DB
}

// NewGormRelationshipRepository creates a gorm relationship repository.
func NewGormRelationshipRepository(db *gorm.DB) RelationshipRepository {
	return &gormRelationshipRepository{db: db}
}

// ========== track -> track ==========

func (r *gormRelationshipRepository) CreateTrackRelationship(ctx context.Context, rel *model.TrackTrackRelationship) error {
	return r.db.WithContext(ctx).Create(rel).Error
}

func (r *gormRelationshipRepository) TrackRelationships(ctx context.Context, trackID uuid.UUID) ([]model.TrackTrackRelationship, error) {
	var out []model.TrackTrackRelationship
	err := r.db.WithContext(ctx).
		Where("source_id = ? OR target_id = ?", trackID, trackID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRelationshipRepository) DeleteTrackRelationships(ctx context.Context, trackID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("source_id = ? OR target_id = ?", trackID, trackID).
		Delete(&model.TrackTrackRelationship{}).Error
}

// ========== track -> collection ==========

func (r *gormRelationshipRepository) CreateMembership(ctx context.Context, rel *model.TrackCollectionRelationship) error {
	return r.db.WithContext(ctx).Create(rel).Error
}

func (r *gormRelationshipRepository) LastPosition(ctx context.Context, collectionID uuid.UUID) (int, error) {
	var last sql.NullInt64
	err := r.db.WithContext(ctx).Model(&model.TrackCollectionRelationship{}).
		Where("target_id = ?", collectionID).
		Select("MAX(relationship_position)").
		Row().Scan(&last)
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return -1, nil
	}
	return int(last.Int64), nil
}

func (r *gormRelationshipRepository) ShiftPositions(ctx context.Context, collectionID uuid.UUID, from, delta int) error {
	return r.db.WithContext(ctx).Model(&model.TrackCollectionRelationship{}).
		Where("target_id = ? AND relationship_position >= ?", collectionID, from).
		Update("relationship_position", gorm.Expr("relationship_position + ?", delta)).Error
}

func (r *gormRelationshipRepository) FindMembership(ctx context.Context, trackID, collectionID uuid.UUID) (*model.TrackCollectionRelationship, error) {
	var rel model.TrackCollectionRelationship
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND target_id = ?", trackID, collectionID).
		Order("relationship_position ASC").
		First(&rel).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}

func (r *gormRelationshipRepository) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.TrackCollectionRelationship{}).Error
}

func (r *gormRelationshipRepository) MembershipsOfTrack(ctx context.Context, trackID uuid.UUID) ([]model.TrackCollectionRelationship, error) {
	var out []model.TrackCollectionRelationship
	err := r.db.WithContext(ctx).
		Where("source_id = ?", trackID).
		Order("target_id ASC").Order("relationship_position DESC").
		Find(&out).Error
	return out, err
}

func (r *gormRelationshipRepository) MembershipsOfCollection(ctx context.Context, collectionID uuid.UUID) ([]model.TrackCollectionRelationship, error) {
	var out []model.TrackCollectionRelationship
	err := r.db.WithContext(ctx).
		Where("target_id = ?", collectionID).
		Order("relationship_position ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRelationshipRepository) DeleteMembershipsOfCollection(ctx context.Context, collectionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("target_id = ?", collectionID).Delete(&model.TrackCollectionRelationship{}).Error
}

// ========== collection -> collection ==========

func (r *gormRelationshipRepository) CreateCollectionRelationship(ctx context.Context, rel *model.CollectionCollectionRelationship) error {
	return r.db.WithContext(ctx).Create(rel).Error
}

func (r *gormRelationshipRepository) CollectionRelationships(ctx context.Context, collectionID uuid.UUID) ([]model.CollectionCollectionRelationship, error) {
	var out []model.CollectionCollectionRelationship
	err := r.db.WithContext(ctx).
		Where("source_id = ? OR target_id = ?", collectionID, collectionID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRelationshipRepository) DeleteCollectionRelationships(ctx context.Context, collectionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("source_id = ? OR target_id = ?", collectionID, collectionID).
		Delete(&model.CollectionCollectionRelationship{}).Error
}

func (r *gormRelationshipRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	tracks := db.Session(&gorm.Session{NewDB: true}).Model(&model.Track{}).Select("id").Where("user_id = ?", userID)
	collections := db.Session(&gorm.Session{NewDB: true}).Model(&model.Collection{}).Select("id").Where("user_id = ?", userID)

	if err := db.Where("source_id IN (?) OR target_id IN (?)", tracks, tracks).
		Delete(&model.TrackTrackRelationship{}).Error; err != nil {
		return err
	}
	if err := db.Where("source_id IN (?) OR target_id IN (?)", tracks, collections).
		Delete(&model.TrackCollectionRelationship{}).Error; err != nil {
		return err
	}
	return db.Where("source_id IN (?) OR target_id IN (?)", collections, collections).
		Delete(&model.CollectionCollectionRelationship{}).Error
}
