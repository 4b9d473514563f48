package model

import (
	"time"

	"github.com/google/uuid"
)

// User owns every other entity. Password holds a bcrypt hash.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name" gorm:"size:128;uniqueIndex;not null"`
	Email     string    `json:"email" gorm:"size:255"`
	Password  string    `json:"-" gorm:"size:255"`
	Avatar    string    `json:"avatar" gorm:"size:255"`
	Verified  bool      `json:"verified"`
	LastLogin time.Time `json:"last_login"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName sets the table name.
func (User) TableName() string {
	return "users"
}

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Track{},
		&Collection{},
		&TrackTrackRelationship{},
		&TrackCollectionRelationship{},
		&CollectionCollectionRelationship{},
		&PluginData{},
		&Blob{},
		&Embedding{},
	}
}
