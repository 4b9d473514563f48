package library

import (
	"context"
	"fmt"
	"math"
	"sort"

	"nendo/config"
	"nendo/errs"
	"nendo/model"
	"nendo/repository"

	"github.com/google/uuid"
)

// AddEmbedding stores an embedding. With replace, embeddings of the same
// track, plugin and version are deleted first.
func (l *Library) AddEmbedding(ctx context.Context, e *model.Embedding, replace *bool) (*model.Embedding, error) {
	if len(e.Vector) == 0 {
		return nil, fmt.Errorf("embedding of track %s has no vector", e.TrackID)
	}
	err := l.transaction(ctx, "add embedding", func(r *repository.Repositories) error {
		track, err := r.Tracks.GetByID(ctx, e.TrackID)
		if err != nil {
			return err
		}
		if track == nil {
			return errs.NotFound("Track", e.TrackID)
		}
		if e.UserID == uuid.Nil {
			e.UserID = track.UserID
		}
		if boolOr(replace, l.opts.ReplacePluginData) {
			old, err := r.Embeddings.List(ctx, repository.EmbeddingQuery{
				TrackIDs:      []uuid.UUID{e.TrackID},
				PluginName:    e.PluginName,
				PluginVersion: e.PluginVersion,
			})
			if err != nil {
				return err
			}
			for _, o := range old {
				if err := r.Embeddings.Delete(ctx, o.ID); err != nil {
					return err
				}
			}
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		return r.Embeddings.Create(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEmbedding returns one embedding.
func (l *Library) GetEmbedding(ctx context.Context, id uuid.UUID) (*model.Embedding, error) {
	e, err := l.repos(ctx).Embeddings.GetByID(ctx, id)
	if err != nil {
		return nil, errs.Library("get embedding", err)
	}
	if e == nil {
		return nil, errs.NotFound("Embedding", id)
	}
	return e, nil
}

// GetEmbeddings lists the embeddings of a track, newest first. Empty plugin
// name or version match any.
func (l *Library) GetEmbeddings(ctx context.Context, trackID uuid.UUID, pluginName, pluginVersion string) ([]model.Embedding, error) {
	es, err := l.repos(ctx).Embeddings.List(ctx, repository.EmbeddingQuery{
		TrackIDs:      []uuid.UUID{trackID},
		PluginName:    pluginName,
		PluginVersion: pluginVersion,
	})
	return es, errs.Library("get embeddings", err)
}

// UpdateEmbedding overwrites text and vector of an embedding.
func (l *Library) UpdateEmbedding(ctx context.Context, e *model.Embedding) (*model.Embedding, error) {
	err := l.transaction(ctx, "update embedding", func(r *repository.Repositories) error {
		cur, err := r.Embeddings.GetByID(ctx, e.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return errs.NotFound("Embedding", e.ID)
		}
		return r.Embeddings.Update(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RemoveEmbedding deletes one embedding.
func (l *Library) RemoveEmbedding(ctx context.Context, id uuid.UUID) (bool, error) {
	err := l.transaction(ctx, "remove embedding", func(r *repository.Repositories) error {
		cur, err := r.Embeddings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return errs.NotFound("Embedding", id)
		}
		return r.Embeddings.Delete(ctx, id)
	})
	return err == nil, err
}

// Similarity scores two vectors; higher is closer.
func Similarity(metric string, a, b model.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions differ: %d and %d", len(a), len(b))
	}
	var dot, na, nb, sq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}
	switch metric {
	case config.DistanceCosine:
		if na == 0 || nb == 0 {
			return 0, nil
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
	case config.DistanceEuclidean:
		return 1 / (1 + math.Sqrt(sq)), nil
	case config.DistanceMaxInnerProduct:
		return dot, nil
	}
	return 0, fmt.Errorf("unknown distance metric %q", metric)
}

// NearestQuery narrows a nearest neighbour search.
type NearestQuery struct {
	Tracks        TrackQuery
	PluginName    string
	PluginVersion string
	// Metric defaults to the library distance.
	Metric string
	Limit  int
}

// ScoredTrack is a search hit.
type ScoredTrack struct {
	Track *model.Track
	Score float64
}

// NearestByVectorWithScore ranks the tracks matching q.Tracks by the
// similarity of their newest embedding to vec.
func (l *Library) NearestByVectorWithScore(ctx context.Context, vec model.Vector, q NearestQuery) ([]ScoredTrack, error) {
	metric := q.Metric
	if metric == "" {
		metric = l.opts.DefaultDistance
	}
	repos := l.repos(ctx)
	ids, err := repos.Tracks.IDs(ctx, l.scoped(q.Tracks))
	if err != nil {
		return nil, errs.Library("nearest by vector", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	embeddings, err := repos.Embeddings.List(ctx, repository.EmbeddingQuery{
		TrackIDs:      ids,
		PluginName:    q.PluginName,
		PluginVersion: q.PluginVersion,
	})
	if err != nil {
		return nil, errs.Library("nearest by vector", err)
	}

	scores := make(map[uuid.UUID]float64)
	var order []uuid.UUID
	for _, e := range embeddings {
		// newest first: keep the first per track
		if _, ok := scores[e.TrackID]; ok {
			continue
		}
		s, err := Similarity(metric, vec, e.Vector)
		if err != nil {
			return nil, err
		}
		scores[e.TrackID] = s
		order = append(order, e.TrackID)
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	if q.Limit > 0 && len(order) > q.Limit {
		order = order[:q.Limit]
	}

	tracks, err := repos.Tracks.GetByIDs(ctx, order)
	if err != nil {
		return nil, errs.Library("nearest by vector", err)
	}
	out := make([]ScoredTrack, len(tracks))
	for i, t := range tracks {
		out[i] = ScoredTrack{Track: t, Score: scores[t.ID]}
	}
	return out, nil
}

// NearestByVector is NearestByVectorWithScore without the scores.
func (l *Library) NearestByVector(ctx context.Context, vec model.Vector, q NearestQuery) ([]*model.Track, error) {
	hits, err := l.NearestByVectorWithScore(ctx, vec, q)
	if err != nil {
		return nil, err
	}
	tracks := make([]*model.Track, len(hits))
	for i, h := range hits {
		tracks[i] = h.Track
	}
	return tracks, nil
}
