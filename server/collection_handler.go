package server

import (
	"net/http"
	"strconv"

	"nendo/core/events"
	"nendo/core/library"
	"nendo/core/query"
	"nendo/errs"
	"nendo/model"

	"github.com/google/uuid"
)

// GetCollectionsHandler lists the user's collections. search matches name
// and description.
func (s *Server) GetCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	f := query.CollectionFilter{
		UserID:          userID(r.Context()),
		CollectionTypes: queryList(r, "collection_type"),
		Search:          r.URL.Query().Get("search"),
		OrderBy:         r.URL.Query().Get("order_by"),
		Order:           r.URL.Query().Get("order"),
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, r, err)
		return
	}
	if err := f.Validate(); err != nil {
		writeError(w, r, badRequest("%v", err))
		return
	}
	cols, err := s.n.Library.GetCollections(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cols == nil {
		cols = []*model.Collection{}
	}
	writeJSON(w, http.StatusOK, cols)
}

// CreateCollectionRequest is the body of CreateCollectionHandler.
type CreateCollectionRequest struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	CollectionType string                 `json:"collection_type"`
	TrackIDs       []uuid.UUID            `json:"track_ids"`
	Meta           map[string]interface{} `json:"meta"`
}

// CreateCollectionHandler creates a collection holding track_ids in order.
func (s *Server) CreateCollectionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, badRequest("name is required"))
		return
	}
	c, err := s.n.Library.AddCollection(r.Context(), req.Name, req.TrackIDs, library.CollectionOptions{
		UserID:         userID(r.Context()),
		CollectionType: req.CollectionType,
		Description:    req.Description,
		Meta:           req.Meta,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publish(r, events.Event{Type: events.TypeCollectionChanged, CollectionID: c.ID.String()})
	writeJSON(w, http.StatusCreated, c)
}

type collectionResponse struct {
	*model.Collection
	Tracks []*model.Track `json:"tracks"`
}

// readableCollection loads the {id} collection if the user may see it.
func (s *Server) readableCollection(r *http.Request) (*model.Collection, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	c, err := s.n.Library.GetCollection(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !canRead(r.Context(), c.UserID, c.Visibility) {
		return nil, errs.NotFound("Collection", id)
	}
	return c, nil
}

// ownedCollection loads the {id} collection if the user owns it.
func (s *Server) ownedCollection(r *http.Request) (*model.Collection, error) {
	c, err := s.readableCollection(r)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID(r.Context()) {
		return nil, errs.NotFound("Collection", c.ID)
	}
	return c, nil
}

// GetCollectionHandler returns a collection with its tracks in order.
func (s *Server) GetCollectionHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.readableCollection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tracks, err := s.n.Library.GetCollectionTracks(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, collectionResponse{Collection: c, Tracks: tracks})
}

// DeleteCollectionHandler removes a collection. A collection linked to
// other collections is only removed with remove_relationships.
func (s *Server) DeleteCollectionHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.ownedCollection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := s.n.Library.RemoveCollection(r.Context(), c.ID, queryBool(r, "remove_relationships"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "collection has relationships"})
		return
	}
	s.publish(r, events.Event{Type: events.TypeCollectionRemoved, CollectionID: c.ID.String()})
	w.WriteHeader(http.StatusNoContent)
}

// AddTrackToCollectionHandler inserts a track at the position parameter,
// or appends it.
func (s *Server) AddTrackToCollectionHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.ownedCollection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trackID, err := pathID(r, "track_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var position *int
	if raw := r.URL.Query().Get("position"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, badRequest("invalid position %q", raw))
			return
		}
		position = &p
	}
	c, err = s.n.Library.AddTrackToCollection(r.Context(), trackID, c.ID, position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publish(r, events.Event{Type: events.TypeCollectionChanged, CollectionID: c.ID.String(), TrackID: trackID.String()})
	writeJSON(w, http.StatusOK, c)
}

// RemoveTrackFromCollectionHandler drops a track from a collection.
func (s *Server) RemoveTrackFromCollectionHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.ownedCollection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trackID, err := pathID(r, "track_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.n.Library.RemoveTrackFromCollection(r.Context(), trackID, c.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.publish(r, events.Event{Type: events.TypeCollectionChanged, CollectionID: c.ID.String(), TrackID: trackID.String()})
	w.WriteHeader(http.StatusNoContent)
}
