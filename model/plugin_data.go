package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PluginData is a key/value fact a plugin attached to a track.
// Large values live in a Blob and Value holds the blob id.
type PluginData struct {
	ID            uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TrackID       uuid.UUID `json:"track_id" gorm:"type:char(36);index;not null"`
	UserID        uuid.UUID `json:"user_id" gorm:"type:char(36);index"`
	PluginName    string    `json:"plugin_name" gorm:"size:128;index"`
	PluginVersion string    `json:"plugin_version" gorm:"size:64"`
	Key           string    `json:"key" gorm:"size:128;index"`
	Value         string    `json:"value" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName sets the table name.
func (PluginData) TableName() string {
	return "plugin_data"
}

func (pd PluginData) String() string {
	return fmt.Sprintf("----------------\nplugin name: %s\nplugin version: %s\nkey: %s\nvalue: %s",
		pd.PluginName, pd.PluginVersion, pd.Key, pd.Value)
}

// Blob is an opaque binary payload with a resource pointer.
type Blob struct {
	ID         uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:char(36);index;not null"`
	Resource   Resource   `json:"resource" gorm:"type:json"`
	Visibility Visibility `json:"visibility" gorm:"size:16"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Data is only set when the blob was loaded.
	Data []byte `json:"-" gorm:"-"`
}

// TableName sets the table name.
func (Blob) TableName() string {
	return "blobs"
}

// Embedding is a vector computed by an embedding plugin for a track.
type Embedding struct {
	ID            uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TrackID       uuid.UUID `json:"track_id" gorm:"type:char(36);index;not null"`
	UserID        uuid.UUID `json:"user_id" gorm:"type:char(36);index"`
	PluginName    string    `json:"plugin_name" gorm:"size:128;index"`
	PluginVersion string    `json:"plugin_version" gorm:"size:64"`
	Text          string    `json:"text" gorm:"type:text"`
	Vector        Vector    `json:"embedding" gorm:"type:json"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName sets the table name.
func (Embedding) TableName() string {
	return "embeddings"
}
