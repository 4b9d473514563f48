// Package repository holds the gorm data access objects of the library.
// Every repository wraps the *gorm.DB it is built with, so handing in a
// transaction scopes all calls to that transaction.
package repository

import (
	"errors"

	"gorm.io/gorm"
)

// Repositories bundles the repositories bound to one connection or transaction.
type Repositories struct {
	Tracks        TrackRepository
	Collections   CollectionRepository
	Relationships RelationshipRepository
	PluginData    PluginDataRepository
	Blobs         BlobRepository
	Embeddings    EmbeddingRepository
	Users         UserRepository
}

// New binds every repository to db.
func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Tracks:        NewGormTrackRepository(db),
		Collections:   NewGormCollectionRepository(db),
		Relationships: NewGormRelationshipRepository(db),
		PluginData:    NewGormPluginDataRepository(db),
		Blobs:         NewGormBlobRepository(db),
		Embeddings:    NewGormEmbeddingRepository(db),
		Users:         NewGormUserRepository(db),
	}
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
