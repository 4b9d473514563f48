package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nendo/core/auth"
	"nendo/logger"
	"nendo/model"
)

// RegisterRequest is the registration request body.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

var errAuthDisabled = errors.New("authentication is disabled")

// RegisterHandler creates a user and returns a token for it.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		http.Error(w, errAuthDisabled.Error(), http.StatusServiceUnavailable)
		return
	}
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, badRequest("username and password are required"))
		return
	}

	user, err := s.n.Library.AddUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		logger.Warn("[Register] Failed to create user", logger.String("username", req.Username), logger.ErrorField(err))
		writeError(w, r, err)
		return
	}
	if _, err := s.n.Storage.InitForUser(r.Context(), user.ID.String()); err != nil {
		logger.Warn("[Register] Failed to init user storage", logger.String("username", req.Username), logger.ErrorField(err))
	}
	s.respondToken(w, r, http.StatusCreated, user)
}

// LoginHandler checks credentials and returns a token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		http.Error(w, errAuthDisabled.Error(), http.StatusServiceUnavailable)
		return
	}
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.n.Library.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Warn("[Login] Login failed", logger.String("username", req.Username))
		// unknown users and wrong passwords look the same
		writeError(w, r, auth.ErrInvalidCredentials)
		return
	}
	logger.Info("[Login] Login succeeded", logger.String("username", user.Name))
	s.respondToken(w, r, http.StatusOK, user)
}

func (s *Server) respondToken(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	token, err := s.tokens.Issue(user.ID, user.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, User: user})
}

// AuthMiddleware resolves the request user from a Bearer token, or from the
// token query parameter for websocket clients.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			ctx := context.WithValue(r.Context(), userIDKey, s.n.Library.Options().UserID)
			ctx = context.WithValue(ctx, usernameKey, s.n.Library.Options().UserName)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := r.URL.Query().Get("token")
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}
			token = parts[1]
		}
		if token == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		claims, err := s.tokens.Parse(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		id, err := claims.UserID()
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, id)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
