package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTrackType is used when a track is added without a type.
const DefaultTrackType = "track"

// Track is an audio asset of the library.
//
// RelatedTracks, RelatedCollections and PluginData are filled on read and are
// a projection of the relationship and plugin_data tables, not the source of
// truth. They are never written back through the track.
type Track struct {
	ID         uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:char(36);index;not null"`
	TrackType  string     `json:"track_type" gorm:"size:64;index"`
	Visibility Visibility `json:"visibility" gorm:"size:16;index"`
	Resource   Resource   `json:"resource" gorm:"type:json"`
	Images     Resources  `json:"images" gorm:"type:json"`
	Meta       JSONMap    `json:"meta" gorm:"type:json"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	PluginData         []PluginData                  `json:"plugin_data,omitempty" gorm:"foreignKey:TrackID"`
	RelatedTracks      []TrackTrackRelationship      `json:"related_tracks,omitempty" gorm:"foreignKey:SourceID"`
	RelatedCollections []TrackCollectionRelationship `json:"related_collections,omitempty" gorm:"foreignKey:SourceID"`
}

// TableName sets the table name.
func (Track) TableName() string {
	return "tracks"
}

// GetMeta returns a metadata value and whether it was present.
func (t *Track) GetMeta(key string) (interface{}, bool) {
	if t.Meta == nil {
		return nil, false
	}
	v, ok := t.Meta[key]
	return v, ok && v != nil
}

// HasMeta reports whether key is present in the metadata.
func (t *Track) HasMeta(key string) bool {
	_, ok := t.GetMeta(key)
	return ok
}

// MetaString formats a metadata value, empty when absent.
func (t *Track) MetaString(key string) string {
	v, ok := t.GetMeta(key)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// SetMeta merges values into the metadata. The change is only persisted
// through an explicit library update.
func (t *Track) SetMeta(values map[string]interface{}) {
	if t.Meta == nil {
		t.Meta = JSONMap{}
	}
	t.Meta.Merge(values)
}

// PluginDataFilter narrows GetPluginData. Empty fields match everything.
type PluginDataFilter struct {
	PluginName    string
	PluginVersion string
	Key           string
}

// GetPluginData returns the loaded plugin data entries matching f.
func (t *Track) GetPluginData(f PluginDataFilter) []PluginData {
	var out []PluginData
	for _, pd := range t.PluginData {
		if f.PluginName != "" && pd.PluginName != f.PluginName {
			continue
		}
		if f.PluginVersion != "" && pd.PluginVersion != f.PluginVersion {
			continue
		}
		if f.Key != "" && pd.Key != f.Key {
			continue
		}
		out = append(out, pd)
	}
	return out
}

// GetPluginValue returns the most recently updated raw value for key.
func (t *Track) GetPluginValue(key string) (string, bool) {
	var latest *PluginData
	for i := range t.PluginData {
		pd := &t.PluginData[i]
		if pd.Key != key {
			continue
		}
		if latest == nil || pd.UpdatedAt.After(latest.UpdatedAt) {
			latest = pd
		}
	}
	if latest == nil {
		return "", false
	}
	return latest.Value, true
}

// String renders the track for CLI output.
func (t *Track) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", t.ID)
	fmt.Fprintf(&b, "type: %s\n", t.TrackType)
	fmt.Fprintf(&b, "file: %s\n", t.Resource.Src())
	keys := make([]string, 0, len(t.Meta))
	for k := range t.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, t.Meta[k])
	}
	return b.String()
}
