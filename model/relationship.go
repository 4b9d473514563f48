package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultRelationshipType is used when a caller does not name the edge.
const DefaultRelationshipType = "relationship"

// MembershipRelationshipType is the type of track→collection edges created
// when tracks are put into a collection.
const MembershipRelationshipType = "track"

// TrackTrackRelationship is a directed edge between two tracks.
type TrackTrackRelationship struct {
	ID               uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SourceID         uuid.UUID `json:"source_id" gorm:"type:char(36);index;not null"`
	TargetID         uuid.UUID `json:"target_id" gorm:"type:char(36);index;not null"`
	RelationshipType string    `json:"relationship_type" gorm:"size:64"`
	Meta             JSONMap   `json:"meta" gorm:"type:json"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName sets the table name.
func (TrackTrackRelationship) TableName() string {
	return "track_track_relationships"
}

// TrackCollectionRelationship places a track in a collection.
// Position is dense and zero-based within TargetID.
type TrackCollectionRelationship struct {
	ID               uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SourceID         uuid.UUID `json:"source_id" gorm:"type:char(36);index;not null"`
	TargetID         uuid.UUID `json:"target_id" gorm:"type:char(36);index;not null"`
	RelationshipType string    `json:"relationship_type" gorm:"size:64"`
	Position         int       `json:"relationship_position" gorm:"column:relationship_position;index"`
	Meta             JSONMap   `json:"meta" gorm:"type:json"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName sets the table name.
func (TrackCollectionRelationship) TableName() string {
	return "track_collection_relationships"
}

// CollectionCollectionRelationship is a directed edge between two collections.
type CollectionCollectionRelationship struct {
	ID               uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SourceID         uuid.UUID `json:"source_id" gorm:"type:char(36);index;not null"`
	TargetID         uuid.UUID `json:"target_id" gorm:"type:char(36);index;not null"`
	RelationshipType string    `json:"relationship_type" gorm:"size:64"`
	Meta             JSONMap   `json:"meta" gorm:"type:json"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName sets the table name.
func (CollectionCollectionRelationship) TableName() string {
	return "collection_collection_relationships"
}
