package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"nendo/core/events"
	"nendo/core/library"
	"nendo/core/query"
	"nendo/errs"
	"nendo/logger"
	"nendo/model"
)

const maxUploadMemory = 32 << 20

// GetTracksHandler lists the user's tracks matching the query parameters.
func (s *Server) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	f, err := trackFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tracks, err := s.n.Library.GetTracks(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// UploadTrackHandler imports an audio file sent as the "file" form field.
// Optional title, artist and album fields become track metadata.
func (s *Server) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, r, badRequest("failed to parse multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, badRequest("missing 'file' in form"))
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "nendo-upload-")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(header.Filename))
	out, err := os.Create(path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, r, err)
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, r, err)
		return
	}

	meta := map[string]interface{}{}
	for _, key := range []string{"title", "artist", "album", "genre"} {
		if v := r.FormValue(key); v != "" {
			meta[key] = v
		}
	}
	copyToLibrary := true
	track, err := s.n.Library.AddTrack(r.Context(), path, library.TrackOptions{
		UserID:        userID(r.Context()),
		TrackType:     r.FormValue("track_type"),
		Meta:          meta,
		CopyToLibrary: &copyToLibrary,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("[Upload] Track imported",
		logger.String("track", track.ID.String()),
		logger.String("file", header.Filename))
	s.publish(r, events.Event{Type: events.TypeTrackAdded, TrackID: track.ID.String()})
	writeJSON(w, http.StatusCreated, track)
}

// GetTrackHandler returns one track.
func (s *Server) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	track, err := s.n.Library.GetTrack(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !canRead(r.Context(), track.UserID, track.Visibility) {
		writeError(w, r, errs.NotFound("Track", id))
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// DeleteTrackHandler removes a track. Dependents are only removed when
// remove_relationships and remove_plugin_data allow it; otherwise the
// request is refused with 409.
func (s *Server) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	track, err := s.n.Library.GetTrack(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if track.UserID != userID(r.Context()) {
		writeError(w, r, errs.NotFound("Track", id))
		return
	}
	removed, err := s.n.Library.RemoveTrack(r.Context(), id, library.RemoveTrackOptions{
		RemoveRelationships: queryBool(r, "remove_relationships"),
		RemovePluginData:    queryBool(r, "remove_plugin_data"),
		RemoveResources:     queryBool(r, "remove_resources"),
		UserID:              userID(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "track has relationships or plugin data"})
		return
	}
	s.publish(r, events.Event{Type: events.TypeTrackRemoved, TrackID: id.String()})
	w.WriteHeader(http.StatusNoContent)
}

// PluginDataRequest is the body of AddPluginDataHandler.
type PluginDataRequest struct {
	PluginName    string      `json:"plugin_name"`
	PluginVersion string      `json:"plugin_version"`
	Key           string      `json:"key"`
	Value         interface{} `json:"value"`
	Replace       *bool       `json:"replace"`
}

// AddPluginDataHandler attaches a key/value to a track.
func (s *Server) AddPluginDataHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PluginDataRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Key == "" || req.PluginName == "" {
		writeError(w, r, badRequest("plugin_name and key are required"))
		return
	}
	pd, err := s.n.Library.AddPluginData(r.Context(), library.PluginDataInput{
		TrackID:       id,
		UserID:        userID(r.Context()),
		PluginName:    req.PluginName,
		PluginVersion: req.PluginVersion,
		Key:           req.Key,
		Value:         req.Value,
		Replace:       req.Replace,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pd)
}

// RelatedTracksHandler lists tracks related to a track. direction is
// from, to or both.
func (s *Server) RelatedTracksHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	direction := query.Direction(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = query.DirectionBoth
	}
	if !direction.Valid() {
		writeError(w, r, badRequest("invalid direction %q", direction))
		return
	}
	tracks, err := s.n.Library.GetRelatedTracks(r.Context(), id, direction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

type scoredTrack struct {
	Track *model.Track `json:"track"`
	Score float64      `json:"score"`
}

// NearestTracksHandler embeds the text parameter with the embedding plugin
// and returns the closest tracks.
func (s *Server) NearestTracksHandler(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, r, badRequest("text is required"))
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, badRequest("invalid limit %q", raw))
			return
		}
		limit = n
	}
	scored, err := s.n.Dispatcher.NearestByText(r.Context(), text, library.NearestQuery{
		Tracks: query.TrackFilter{UserID: userID(r.Context())},
		Metric: r.URL.Query().Get("metric"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]scoredTrack, len(scored))
	for i, st := range scored {
		out[i] = scoredTrack{Track: st.Track, Score: st.Score}
	}
	writeJSON(w, http.StatusOK, out)
}
