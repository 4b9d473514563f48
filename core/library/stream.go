package library

import (
	"context"
	"iter"

	"nendo/core/query"
	"nendo/errs"
	"nendo/model"

	"github.com/google/uuid"
)

// TrackQuery selects tracks. A zero UserID means the library user.
type TrackQuery = query.TrackFilter

func (l *Library) scoped(q TrackQuery) TrackQuery {
	q.UserID = l.user(q.UserID)
	return q
}

// StreamTracks yields the tracks matching q one at a time. The ordered ids
// are resolved up front and the tracks loaded lazily in chunks of the
// configured stream chunk size.
func (l *Library) StreamTracks(ctx context.Context, q TrackQuery) iter.Seq2[*model.Track, error] {
	return func(yield func(*model.Track, error) bool) {
		for chunk, err := range l.StreamTrackChunks(ctx, q, l.opts.StreamChunkSize) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range chunk {
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

// StreamTrackChunks yields the tracks matching q in slices of size. The last
// chunk holds the remainder and may be shorter.
func (l *Library) StreamTrackChunks(ctx context.Context, q TrackQuery, size int) iter.Seq2[[]*model.Track, error] {
	if size <= 0 {
		size = 1
	}
	return func(yield func([]*model.Track, error) bool) {
		repos := l.repos(ctx)
		ids, err := repos.Tracks.IDs(ctx, l.scoped(q))
		if err != nil {
			yield(nil, errs.Library("stream tracks", err))
			return
		}
		for start := 0; start < len(ids); start += size {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			end := min(start+size, len(ids))
			chunk, err := repos.Tracks.GetByIDs(ctx, ids[start:end])
			if err != nil {
				yield(nil, errs.Library("stream tracks", err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetTracks returns every track matching q.
func (l *Library) GetTracks(ctx context.Context, q TrackQuery) ([]*model.Track, error) {
	ids, err := l.repos(ctx).Tracks.IDs(ctx, l.scoped(q))
	if err != nil {
		return nil, errs.Library("get tracks", err)
	}
	tracks, err := l.repos(ctx).Tracks.GetByIDs(ctx, ids)
	return tracks, errs.Library("get tracks", err)
}

// FilterTracks is GetTracks under the name used by plugin and HTTP callers.
func (l *Library) FilterTracks(ctx context.Context, q TrackQuery) ([]*model.Track, error) {
	return l.GetTracks(ctx, q)
}

// FindTracks matches value against track metadata and resource on top of q.
func (l *Library) FindTracks(ctx context.Context, value string, q TrackQuery) ([]*model.Track, error) {
	q.SearchMeta = append(append([]string(nil), q.SearchMeta...), value)
	return l.GetTracks(ctx, q)
}

// GetRelatedTracks returns the tracks connected to id. An empty direction
// follows edges both ways.
func (l *Library) GetRelatedTracks(ctx context.Context, id uuid.UUID, direction query.Direction) ([]*model.Track, error) {
	return l.FilterRelatedTracks(ctx, id, direction, TrackQuery{})
}

// FilterRelatedTracks is GetRelatedTracks with additional filters.
func (l *Library) FilterRelatedTracks(ctx context.Context, id uuid.UUID, direction query.Direction, q TrackQuery) ([]*model.Track, error) {
	if direction == "" {
		direction = query.DirectionBoth
	}
	if _, err := l.GetTrack(ctx, id); err != nil {
		return nil, err
	}
	rel := query.Related{TrackID: id, Direction: direction}
	if q.Related != nil {
		rel.RelationshipType = q.Related.RelationshipType
	}
	q.Related = &rel
	return l.GetTracks(ctx, q)
}
