package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Visibility of an entity in a library shared between users.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityDeleted Visibility = "deleted"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityDeleted:
		return true
	}
	return false
}

// ResourceType is the kind of payload a Resource points to.
type ResourceType string

const (
	ResourceAudio ResourceType = "audio"
	ResourceImage ResourceType = "image"
	ResourceModel ResourceType = "model"
	ResourceBlob  ResourceType = "blob"
)

// ResourceLocation tells where the bytes of a Resource live.
// "original" means the file was referenced in place and never copied.
type ResourceLocation string

const (
	LocationOriginal ResourceLocation = "original"
	LocationLocal    ResourceLocation = "local"
	LocationGCS      ResourceLocation = "gcs"
	LocationS3       ResourceLocation = "s3"
)

// scanJSON is shared by the JSON column types below.
func scanJSON(value interface{}, dest interface{}) (bool, error) {
	if value == nil {
		return false, nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return false, fmt.Errorf("unsupported JSON column value of type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(bytes, dest)
}

// JSONMap is a free-form metadata map stored in a JSON column.
type JSONMap map[string]interface{}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	out := JSONMap{}
	ok, err := scanJSON(value, &out)
	if err != nil {
		return err
	}
	if !ok {
		out = JSONMap{}
	}
	*m = out
	return nil
}

// Value implements driver.Valuer. A nil map is stored as {}.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Clone returns a shallow copy.
func (m JSONMap) Clone() JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into m, overwriting existing keys.
func (m JSONMap) Merge(other map[string]interface{}) {
	for k, v := range other {
		m[k] = v
	}
}

// Resource describes the file behind a track, an image or a blob.
type Resource struct {
	ID           uuid.UUID        `json:"id"`
	FilePath     string           `json:"file_path"`
	FileName     string           `json:"file_name"`
	ResourceType ResourceType     `json:"resource_type"`
	Location     ResourceLocation `json:"location"`
	Meta         JSONMap          `json:"meta"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewResource fills id and timestamps.
func NewResource(filePath, fileName string, typ ResourceType, loc ResourceLocation, meta JSONMap) Resource {
	now := time.Now()
	if meta == nil {
		meta = JSONMap{}
	}
	return Resource{
		ID:           uuid.New(),
		FilePath:     filePath,
		FileName:     fileName,
		ResourceType: typ,
		Location:     loc,
		Meta:         meta,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Src is the full path of the resource.
func (r Resource) Src() string {
	return filepath.Join(r.FilePath, r.FileName)
}

// Scan implements sql.Scanner.
func (r *Resource) Scan(value interface{}) error {
	var out Resource
	ok, err := scanJSON(value, &out)
	if err != nil {
		return err
	}
	if !ok {
		out = Resource{}
	}
	if out.Meta == nil {
		out.Meta = JSONMap{}
	}
	*r = out
	return nil
}

// Value implements driver.Valuer.
func (r Resource) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Resources is a list of resources stored in a JSON column (track images).
type Resources []Resource

// Scan implements sql.Scanner.
func (rs *Resources) Scan(value interface{}) error {
	var out Resources
	if _, err := scanJSON(value, &out); err != nil {
		return err
	}
	*rs = out
	return nil
}

// Value implements driver.Valuer.
func (rs Resources) Value() (driver.Value, error) {
	if rs == nil {
		return "[]", nil
	}
	b, err := json.Marshal(rs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Vector is an embedding vector stored in a JSON column.
type Vector []float32

// Scan implements sql.Scanner.
func (v *Vector) Scan(value interface{}) error {
	var out Vector
	if _, err := scanJSON(value, &out); err != nil {
		return err
	}
	*v = out
	return nil
}

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
