// Package server exposes the library and the plugin dispatcher over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"nendo/core/auth"
	"nendo/core/events"
	"nendo/core/nendo"
	"nendo/logger"

	"github.com/gorilla/mux"
)

// Server is the HTTP API. Without a JWT secret every request acts as the
// library user and the auth endpoints are disabled.
type Server struct {
	n      *nendo.Nendo
	tokens *auth.TokenIssuer
	router *mux.Router
	hub    *events.Hub
}

// New builds the router over n.
func New(n *nendo.Nendo) (*Server, error) {
	s := &Server{n: n, hub: events.NewHub()}
	if n.Config.JWTSecret != "" {
		tokens, err := auth.NewTokenIssuer(n.Config.JWTSecret, n.Config.JWTTTL)
		if err != nil {
			return nil, err
		}
		s.tokens = tokens
	} else {
		logger.Warn("[Server] No JWT secret configured, authentication is disabled")
	}
	s.router = s.routes()
	go s.hub.Run()
	return s, nil
}

// Close disconnects the event clients.
func (s *Server) Close() {
	s.hub.Stop()
}

// publish sends a change event to the request user's event clients.
func (s *Server) publish(r *http.Request, evt events.Event) {
	evt.UserID = userID(r.Context())
	s.hub.Publish(evt)
}

// Handler returns the root handler. CORS wraps the router so preflight
// requests are answered before route matching.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metricsMiddleware)

	router.Handle("/metrics", s.n.Metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/api/auth/register", s.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", s.LoginHandler).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.AuthMiddleware)

	api.HandleFunc("/tracks", s.GetTracksHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks", s.UploadTrackHandler).Methods(http.MethodPost)
	api.HandleFunc("/tracks/nearest", s.NearestTracksHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}", s.GetTrackHandler).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}", s.DeleteTrackHandler).Methods(http.MethodDelete)
	api.HandleFunc("/tracks/{id}/plugin-data", s.AddPluginDataHandler).Methods(http.MethodPost)
	api.HandleFunc("/tracks/{id}/related", s.RelatedTracksHandler).Methods(http.MethodGet)

	api.HandleFunc("/collections", s.GetCollectionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/collections", s.CreateCollectionHandler).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}", s.GetCollectionHandler).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}", s.DeleteCollectionHandler).Methods(http.MethodDelete)
	api.HandleFunc("/collections/{id}/tracks/{track_id}", s.AddTrackToCollectionHandler).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}/tracks/{track_id}", s.RemoveTrackFromCollectionHandler).Methods(http.MethodDelete)

	api.HandleFunc("/plugins", s.ListPluginsHandler).Methods(http.MethodGet)
	api.HandleFunc("/plugins/{name}/run", s.RunPluginHandler).Methods(http.MethodPost)

	ws := router.PathPrefix("/ws").Subrouter()
	ws.Use(s.AuthMiddleware)
	ws.HandleFunc("/tracks", s.StreamTracksHandler).Methods(http.MethodGet)
	ws.HandleFunc("/events", s.EventsHandler).Methods(http.MethodGet)

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.n.Metrics.RecordHTTPRequest(r.Method, route, rec.code)
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] Listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server] Shutting down")
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
