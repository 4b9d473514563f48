package server

import (
	"net/http"

	"nendo/core/events"
	"nendo/core/plugin"
	"nendo/errs"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type pluginInfo struct {
	Name        string   `json:"name"`
	ShortName   string   `json:"short_name"`
	Version     string   `json:"version"`
	Family      string   `json:"family"`
	Description string   `json:"description"`
	CallForms   []string `json:"call_forms"`
}

// ListPluginsHandler lists the registered plugins.
func (s *Server) ListPluginsHandler(w http.ResponseWriter, r *http.Request) {
	all := s.n.Registry.All()
	out := make([]pluginInfo, len(all))
	for i, reg := range all {
		out[i] = pluginInfo{
			Name:        reg.Name,
			ShortName:   plugin.ShortName(reg.Name),
			Version:     reg.Version,
			Family:      string(reg.Plugin.Family),
			Description: reg.Plugin.Description,
			CallForms:   reg.Plugin.CallForms(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// RunPluginRequest is the body of RunPluginHandler. Function picks an op by
// name; without it the op is resolved from the other fields.
type RunPluginRequest struct {
	Function         string                 `json:"function"`
	TrackID          uuid.UUID              `json:"track_id"`
	CollectionID     uuid.UUID              `json:"collection_id"`
	ID               uuid.UUID              `json:"id"`
	Text             string                 `json:"text"`
	RelationshipType string                 `json:"relationship_type"`
	Args             map[string]interface{} `json:"args"`
}

// RunPluginHandler calls a plugin. An ambiguous call is answered with 409
// and the valid call forms.
func (s *Server) RunPluginHandler(w http.ResponseWriter, r *http.Request) {
	var req RunPluginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	call := plugin.Call{
		TrackID:          req.TrackID,
		CollectionID:     req.CollectionID,
		ID:               req.ID,
		Text:             req.Text,
		RelationshipType: req.RelationshipType,
		Args:             req.Args,
		UserID:           userID(r.Context()),
	}

	if err := s.checkOwner(r, req.TrackID, req.CollectionID, req.ID); err != nil {
		writeError(w, r, err)
		return
	}

	name := mux.Vars(r)["name"]
	var (
		res *plugin.Result
		err error
	)
	if req.Function != "" {
		res, err = s.n.Dispatcher.CallOp(r.Context(), name, req.Function, call)
	} else {
		res, err = s.n.Dispatcher.Call(r.Context(), name, call)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Kind == plugin.ResultAmbiguous {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	evt := events.Event{Type: events.TypePluginRun, Plugin: name, Result: string(res.Kind)}
	if reg, err := s.n.Registry.Get(name); err == nil {
		evt.Plugin = reg.Name
	}
	switch {
	case res.Track != nil:
		evt.TrackID = res.Track.ID.String()
	case res.Collection != nil:
		evt.CollectionID = res.Collection.ID.String()
	}
	s.publish(r, evt)
	writeJSON(w, http.StatusOK, res)
}

// checkOwner fails with NotFound unless every non-nil id is a track or
// collection of the request user.
func (s *Server) checkOwner(r *http.Request, ids ...uuid.UUID) error {
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		t, c, err := s.n.Library.GetTrackOrCollection(r.Context(), id)
		if err != nil {
			return err
		}
		owner := uuid.Nil
		if t != nil {
			owner = t.UserID
		} else if c != nil {
			owner = c.UserID
		}
		if owner != userID(r.Context()) {
			return errs.NotFound("Track or Collection", id)
		}
	}
	return nil
}
