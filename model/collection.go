package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCollectionType = "collection"
	// TempCollectionName and TempCollectionType mark collections created by
	// the dispatcher to hold the outputs of one plugin call.
	TempCollectionName = "tmp"
	TempCollectionType = "temp"
)

// Collection is an ordered group of tracks.
type Collection struct {
	ID             uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Name           string     `json:"name" gorm:"size:255;index"`
	Description    string     `json:"description" gorm:"type:text"`
	CollectionType string     `json:"collection_type" gorm:"size:64;index"`
	UserID         uuid.UUID  `json:"user_id" gorm:"type:char(36);index;not null"`
	Visibility     Visibility `json:"visibility" gorm:"size:16"`
	Meta           JSONMap    `json:"meta" gorm:"type:json"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// RelatedTracks is loaded ordered by position.
	RelatedTracks      []TrackCollectionRelationship      `json:"related_tracks,omitempty" gorm:"foreignKey:TargetID"`
	RelatedCollections []CollectionCollectionRelationship `json:"related_collections,omitempty" gorm:"foreignKey:SourceID"`
}

// TableName sets the table name.
func (Collection) TableName() string {
	return "collections"
}

// TrackIDs returns member ids in position order.
func (c *Collection) TrackIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.RelatedTracks))
	for i, rel := range c.RelatedTracks {
		ids[i] = rel.SourceID
	}
	return ids
}

// IsTemp reports whether the collection was materialized by a plugin call.
func (c *Collection) IsTemp() bool {
	return c.CollectionType == TempCollectionType
}
