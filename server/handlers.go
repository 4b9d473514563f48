package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"nendo/core/auth"
	"nendo/core/library"
	"nendo/core/plugin"
	"nendo/core/query"
	"nendo/errs"
	"nendo/logger"
	"nendo/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	usernameKey
)

// userID returns the authenticated user of the request.
func userID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[Server] Failed to encode response", logger.ErrorField(err))
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrRelationshipNotFound), errors.Is(err, errs.ErrPluginLoading):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrResource), errors.Is(err, plugin.ErrInvalidCall), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrPluginRuntime), errors.Is(err, errs.ErrPluginConfig):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps err onto a status code and a JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] Request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

// queryList reads repeated and comma separated values.
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// trackFilter builds a filter from query parameters: track_type,
// collection_id, search, order_by, order, limit, offset, plugin and any
// number of filter.<key> plugin data predicates.
func trackFilter(r *http.Request) (query.TrackFilter, error) {
	q := r.URL.Query()
	f := query.TrackFilter{
		UserID:      userID(r.Context()),
		TrackTypes:  queryList(r, "track_type"),
		SearchMeta:  queryList(r, "search"),
		PluginNames: queryList(r, "plugin"),
		OrderBy:     q.Get("order_by"),
		Order:       q.Get("order"),
	}
	if raw := q.Get("collection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, badRequest("invalid collection_id %q", raw)
		}
		f.CollectionID = id
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return f, err
	}
	for key, values := range q {
		name, ok := strings.CutPrefix(key, "filter.")
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if f.Filters == nil {
			f.Filters = make(map[string]query.Spec)
		}
		f.Filters[name] = query.ParseSpecString(values[0])
	}
	if err := f.Validate(); err != nil {
		return f, badRequest("%v", err)
	}
	return f, nil
}

// canRead reports whether the request user may see an entity.
func canRead(ctx context.Context, owner uuid.UUID, v model.Visibility) bool {
	return owner == userID(ctx) || v == model.VisibilityPublic
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}
