package library

import (
	"context"
	"errors"

	"nendo/core/query"
	"nendo/errs"
	"nendo/logger"
	"nendo/model"
	"nendo/repository"

	"github.com/google/uuid"
)

// CollectionOptions control how a collection is created.
type CollectionOptions struct {
	UserID         uuid.UUID
	CollectionType string
	Description    string
	Visibility     model.Visibility
	Meta           map[string]interface{}
}

// CollectionQuery selects collections. A zero UserID means the library user.
type CollectionQuery = query.CollectionFilter

func (l *Library) newCollection(name string, opts CollectionOptions) *model.Collection {
	ctype := opts.CollectionType
	if ctype == "" {
		ctype = model.DefaultCollectionType
	}
	visibility := opts.Visibility
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	meta := model.JSONMap{}
	meta.Merge(opts.Meta)
	return &model.Collection{
		ID:             uuid.New(),
		Name:           name,
		Description:    opts.Description,
		CollectionType: ctype,
		UserID:         l.user(opts.UserID),
		Visibility:     visibility,
		Meta:           meta,
	}
}

func requireTrack(ctx context.Context, r *repository.Repositories, id uuid.UUID) error {
	t, err := r.Tracks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return errs.NotFound("Track", id)
	}
	return nil
}

func requireCollection(ctx context.Context, r *repository.Repositories, id uuid.UUID) error {
	ok, err := r.Collections.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("Collection", id)
	}
	return nil
}

// appendTracks adds trackIDs after the last position of collectionID.
func appendTracks(ctx context.Context, r *repository.Repositories, collectionID uuid.UUID, trackIDs []uuid.UUID) error {
	last, err := r.Relationships.LastPosition(ctx, collectionID)
	if err != nil {
		return err
	}
	for i, id := range trackIDs {
		if err := requireTrack(ctx, r, id); err != nil {
			return err
		}
		if err := r.Relationships.CreateMembership(ctx, &model.TrackCollectionRelationship{
			ID:               uuid.New(),
			SourceID:         id,
			TargetID:         collectionID,
			RelationshipType: model.MembershipRelationshipType,
			Position:         last + 1 + i,
		}); err != nil {
			return err
		}
	}
	return nil
}

// AddCollection creates a collection holding trackIDs at positions 0..n-1.
func (l *Library) AddCollection(ctx context.Context, name string, trackIDs []uuid.UUID, opts CollectionOptions) (*model.Collection, error) {
	c := l.newCollection(name, opts)
	err := l.transaction(ctx, "add collection", func(r *repository.Repositories) error {
		if err := r.Collections.Create(ctx, c); err != nil {
			return err
		}
		return appendTracks(ctx, r, c.ID, trackIDs)
	})
	if err != nil {
		return nil, err
	}
	return l.GetCollection(ctx, c.ID)
}

// AddRelatedCollection creates a collection of trackIDs linked to relatedID.
func (l *Library) AddRelatedCollection(ctx context.Context, trackIDs []uuid.UUID, relatedID uuid.UUID, name string, opts CollectionOptions, rel RelationshipOptions) (*model.Collection, error) {
	c := l.newCollection(name, opts)
	err := l.transaction(ctx, "add related collection", func(r *repository.Repositories) error {
		if err := requireCollection(ctx, r, relatedID); err != nil {
			return err
		}
		if err := r.Collections.Create(ctx, c); err != nil {
			return err
		}
		if err := appendTracks(ctx, r, c.ID, trackIDs); err != nil {
			return err
		}
		return r.Relationships.CreateCollectionRelationship(ctx, &model.CollectionCollectionRelationship{
			ID:               uuid.New(),
			SourceID:         c.ID,
			TargetID:         relatedID,
			RelationshipType: rel.relationshipType(),
			Meta:             model.JSONMap(rel.RelationshipMeta).Clone(),
		})
	})
	if err != nil {
		return nil, err
	}
	return l.GetCollection(ctx, c.ID)
}

// AddTrackToCollection puts trackID into collectionID. A nil position
// appends. Otherwise members at or after position move up by one first; a
// position past the end is clamped to the end.
func (l *Library) AddTrackToCollection(ctx context.Context, trackID, collectionID uuid.UUID, position *int) (*model.Collection, error) {
	err := l.transaction(ctx, "add track to collection", func(r *repository.Repositories) error {
		if err := requireTrack(ctx, r, trackID); err != nil {
			return err
		}
		if err := requireCollection(ctx, r, collectionID); err != nil {
			return err
		}
		last, err := r.Relationships.LastPosition(ctx, collectionID)
		if err != nil {
			return err
		}
		pos := last + 1
		if position != nil {
			pos = max(0, min(*position, last+1))
			if err := r.Relationships.ShiftPositions(ctx, collectionID, pos, 1); err != nil {
				return err
			}
		}
		return r.Relationships.CreateMembership(ctx, &model.TrackCollectionRelationship{
			ID:               uuid.New(),
			SourceID:         trackID,
			TargetID:         collectionID,
			RelationshipType: model.MembershipRelationshipType,
			Position:         pos,
		})
	})
	if err != nil {
		return nil, err
	}
	return l.GetCollection(ctx, collectionID)
}

// AddTracksToCollection appends trackIDs in order.
func (l *Library) AddTracksToCollection(ctx context.Context, trackIDs []uuid.UUID, collectionID uuid.UUID) (*model.Collection, error) {
	err := l.transaction(ctx, "add tracks to collection", func(r *repository.Repositories) error {
		if err := requireCollection(ctx, r, collectionID); err != nil {
			return err
		}
		return appendTracks(ctx, r, collectionID, trackIDs)
	})
	if err != nil {
		return nil, err
	}
	return l.GetCollection(ctx, collectionID)
}

// RemoveTrackFromCollection removes the lowest positioned occurrence of
// trackID and closes the gap it leaves.
func (l *Library) RemoveTrackFromCollection(ctx context.Context, trackID, collectionID uuid.UUID) (bool, error) {
	err := l.transaction(ctx, "remove track from collection", func(r *repository.Repositories) error {
		m, err := r.Relationships.FindMembership(ctx, trackID, collectionID)
		if err != nil {
			return err
		}
		if m == nil {
			return errs.RelationshipNotFound(trackID, collectionID)
		}
		return removeMembership(ctx, r, *m)
	})
	return err == nil, err
}

// GetCollection returns the collection with its members in position order.
func (l *Library) GetCollection(ctx context.Context, id uuid.UUID) (*model.Collection, error) {
	c, err := l.repos(ctx).Collections.GetByID(ctx, id)
	if err != nil {
		return nil, errs.Library("get collection", err)
	}
	if c == nil {
		return nil, errs.NotFound("Collection", id)
	}
	return c, nil
}

// GetCollections lists the collections matching q.
func (l *Library) GetCollections(ctx context.Context, q CollectionQuery) ([]*model.Collection, error) {
	q.UserID = l.user(q.UserID)
	cs, err := l.repos(ctx).Collections.List(ctx, q)
	return cs, errs.Library("get collections", err)
}

// FindCollections matches value against collection names and descriptions.
func (l *Library) FindCollections(ctx context.Context, value string, q CollectionQuery) ([]*model.Collection, error) {
	q.Search = value
	return l.GetCollections(ctx, q)
}

// GetCollectionTracks returns the members of a collection in position order.
func (l *Library) GetCollectionTracks(ctx context.Context, id uuid.UUID) ([]*model.Track, error) {
	c, err := l.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	tracks, err := l.repos(ctx).Tracks.GetByIDs(ctx, c.TrackIDs())
	return tracks, errs.Library("get collection tracks", err)
}

// CollectionSize is the number of memberships of a collection.
func (l *Library) CollectionSize(ctx context.Context, id uuid.UUID) (int, error) {
	c, err := l.GetCollection(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(c.RelatedTracks), nil
}

// GetRelatedCollections returns the collections linked to id in either
// direction.
func (l *Library) GetRelatedCollections(ctx context.Context, id uuid.UUID) ([]*model.Collection, error) {
	repos := l.repos(ctx)
	rels, err := repos.Relationships.CollectionRelationships(ctx, id)
	if err != nil {
		return nil, errs.Library("get related collections", err)
	}
	var out []*model.Collection
	seen := map[uuid.UUID]bool{id: true}
	for _, rel := range rels {
		other := rel.TargetID
		if other == id {
			other = rel.SourceID
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		c, err := repos.Collections.GetByID(ctx, other)
		if err != nil {
			return nil, errs.Library("get related collections", err)
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// UpdateCollection persists name, description, type, visibility and meta.
func (l *Library) UpdateCollection(ctx context.Context, c *model.Collection) (*model.Collection, error) {
	err := l.transaction(ctx, "update collection", func(r *repository.Repositories) error {
		if err := requireCollection(ctx, r, c.ID); err != nil {
			return err
		}
		return r.Collections.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return l.GetCollection(ctx, c.ID)
}

// RemoveCollection deletes a collection and its track memberships. Links to
// other collections are only removed with removeRelationships; without it a
// linked collection is left alone and false returned.
func (l *Library) RemoveCollection(ctx context.Context, id uuid.UUID, removeRelationships bool) (bool, error) {
	refused := false
	err := l.transaction(ctx, "remove collection", func(r *repository.Repositories) error {
		if err := requireCollection(ctx, r, id); err != nil {
			return err
		}
		rels, err := r.Relationships.CollectionRelationships(ctx, id)
		if err != nil {
			return err
		}
		if len(rels) > 0 {
			if !removeRelationships {
				logger.Warn("[Library] Collection has relationships, not removing", logger.String("collection_id", id.String()), logger.Int("relationships", len(rels)))
				refused = true
				return nil
			}
			if err := r.Relationships.DeleteCollectionRelationships(ctx, id); err != nil {
				return err
			}
		}
		if err := r.Relationships.DeleteMembershipsOfCollection(ctx, id); err != nil {
			return err
		}
		return r.Collections.Delete(ctx, id)
	})
	if err != nil {
		return false, err
	}
	return !refused, nil
}

// GetTrackOrCollection resolves id to whichever entity carries it.
func (l *Library) GetTrackOrCollection(ctx context.Context, id uuid.UUID) (*model.Track, *model.Collection, error) {
	t, err := l.GetTrack(ctx, id)
	if err == nil {
		return t, nil, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, nil, err
	}
	c, err := l.GetCollection(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.NotFound("Track or Collection", id)
		}
		return nil, nil, err
	}
	return nil, c, nil
}
