package repository

import (
	"context"

	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PluginDataQuery selects plugin data rows. Zero fields match everything.
type PluginDataQuery struct {
	TrackID       uuid.UUID
	UserID        uuid.UUID
	PluginName    string
	PluginVersion string
	Key           string
}

func (q PluginDataQuery) apply(db *gorm.DB) *gorm.DB {
	if q.TrackID != uuid.Nil {
		db = db.Where("track_id = ?", q.TrackID)
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
	if q.Key != "" {
		db = db.Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: q.Key})
	}
	return db
}

// exact matches track, plugin, version and key as given, empty strings
// included. UserID stays optional.
func (q PluginDataQuery) exact(db *gorm.DB) *gorm.DB {
	db = db.Where("track_id = ? AND plugin_name = ? AND plugin_version = ?", q.TrackID, q.PluginName, q.PluginVersion).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: q.Key})
	if q.UserID != uuid.Nil {
		db = db.Where("user_id = ?", q.UserID)
	}
	return db
}

// PluginDataRepository is the data access interface for plugin data.
type PluginDataRepository interface {
	Create(ctx context.Context, pd *model.PluginData) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.PluginData, error)
	// Latest returns the most recently updated row with exactly q's track,
	// plugin, version and key, or nil. Zero fields are not wildcards here.
	Latest(ctx context.Context, q PluginDataQuery) (*model.PluginData, error)
	List(ctx context.Context, q PluginDataQuery) ([]model.PluginData, error)
	Update(ctx context.Context, pd *model.PluginData) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTrack(ctx context.Context, trackID uuid.UUID) error
	CountByTrack(ctx context.Context, trackID uuid.UUID) (int64, error)
	// CountByValue counts rows holding value, e.g. references to one blob.
	CountByValue(ctx context.Context, value string) (int64, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type gormPluginDataRepository struct {
	db *gorm.DB
}

// NewGormPluginDataRepository creates a gorm plugin data repository.
func NewGormPluginDataRepository(db *gorm.DB) PluginDataRepository {
	return &gormPluginDataRepository{db: db}
}

func (r *gormPluginDataRepository) Create(ctx context.Context, pd *model.PluginData) error {
	return r.db.WithContext(ctx).Create(pd).Error
}

func (r *gormPluginDataRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.PluginData, error) {
	var pd model.PluginData
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pd).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &pd, nil
}

func (r *gormPluginDataRepository) Latest(ctx context.Context, q PluginDataQuery) (*model.PluginData, error) {
	var pd model.PluginData
	err := r.db.WithContext(ctx).Scopes(q.exact).Order("updated_at DESC").First(&pd).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &pd, nil
}

func (r *gormPluginDataRepository) List(ctx context.Context, q PluginDataQuery) ([]model.PluginData, error) {
	var out []model.PluginData
	err := r.db.WithContext(ctx).Scopes(q.apply).Order("updated_at ASC").Find(&out).Error
	return out, err
}

func (r *gormPluginDataRepository) Update(ctx context.Context, pd *model.PluginData) error {
	return r.db.WithContext(ctx).Save(pd).Error
}

func (r *gormPluginDataRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.PluginData{}).Error
}

func (r *gormPluginDataRepository) DeleteByTrack(ctx context.Context, trackID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("track_id = ?", trackID).Delete(&model.PluginData{}).Error
}

func (r *gormPluginDataRepository) CountByTrack(ctx context.Context, trackID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.PluginData{}).Where("track_id = ?", trackID).Count(&n).Error
	return n, err
}

func (r *gormPluginDataRepository) CountByValue(ctx context.Context, value string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.PluginData{}).Where("value = ?", value).Count(&n).Error
	return n, err
}

func (r *gormPluginDataRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.PluginData{}).Error
}
