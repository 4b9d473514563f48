package query

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var collectionColumns = map[string]string{
	"created_at":      "collections.created_at",
	"updated_at":      "collections.updated_at",
	"name":            "collections.name",
	"collection_type": "collections.collection_type",
}

// CollectionFilter selects collections.
type CollectionFilter struct {
	UserID          uuid.UUID
	CollectionTypes []string
	// Search matches name or description, ignoring case.
	Search  string
	OrderBy string
	Order   string
	Limit   int
	Offset  int
}

func (f CollectionFilter) Validate() error {
	if f.OrderBy != "" && f.OrderBy != OrderRandom {
		if _, ok := collectionColumns[f.OrderBy]; !ok {
			return fmt.Errorf("unknown order column %q", f.OrderBy)
		}
	}
	switch strings.ToLower(f.Order) {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("unknown order direction %q", f.Order)
	}
	return nil
}

// Apply is a gorm scope for a query on model.Collection.
func (f CollectionFilter) Apply(db *gorm.DB) *gorm.DB {
	if err := f.Validate(); err != nil {
		_ = db.AddError(err)
		return db
	}
	if f.UserID != uuid.Nil {
		db = db.Where("collections.user_id = ?", f.UserID)
	}
	if len(f.CollectionTypes) > 0 {
		db = db.Where("collections.collection_type IN ?", f.CollectionTypes)
	}
	if f.Search != "" {
		pattern := containsPattern(f.Search)
		db = db.Where("(LOWER(collections.name) LIKE ? ESCAPE '!' OR LOWER(collections.description) LIKE ? ESCAPE '!')", pattern, pattern)
	}

	dir := "ASC"
	if strings.EqualFold(f.Order, "desc") {
		dir = "DESC"
	}
	switch f.OrderBy {
	case OrderRandom:
		db = db.Order(RandomOrder(db.Dialector.Name()))
	case "":
		db = db.Order("collections.created_at ASC").Order("collections.id ASC")
	default:
		db = db.Order(collectionColumns[f.OrderBy] + " " + dir).Order("collections.id ASC")
	}

	if f.Limit > 0 {
		db = db.Limit(f.Limit)
		if f.Offset > 0 {
			db = db.Offset(f.Offset)
		}
	}
	return db
}
