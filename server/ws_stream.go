package server

import (
	"net/http"
	"strconv"

	"nendo/core/events"
	"nendo/logger"
	"nendo/model"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is one websocket frame of a track stream.
type streamMessage struct {
	Tracks []*model.Track `json:"tracks,omitempty"`
	Done   bool           `json:"done,omitempty"`
	Count  int            `json:"count,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// StreamTracksHandler streams the tracks matching the query parameters in
// chunks of chunk_size, closing with a done frame. The last chunk may be
// shorter.
func (s *Server) StreamTracksHandler(w http.ResponseWriter, r *http.Request) {
	f, err := trackFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size := s.n.Config.StreamChunkSize
	if raw := r.URL.Query().Get("chunk_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, badRequest("invalid chunk_size %q", raw))
			return
		}
		size = n
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Stream] Websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	count := 0
	for chunk, err := range s.n.Library.StreamTrackChunks(r.Context(), f, size) {
		if err != nil {
			logger.Warn("[Stream] Track stream failed", logger.ErrorField(err))
			_ = conn.WriteJSON(streamMessage{Error: err.Error()})
			return
		}
		if err := conn.WriteJSON(streamMessage{Tracks: chunk}); err != nil {
			logger.Warn("[Stream] Websocket write failed", logger.ErrorField(err))
			return
		}
		count += len(chunk)
	}
	_ = conn.WriteJSON(streamMessage{Done: true, Count: count})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// EventsHandler pushes the user's library change events over a websocket.
// Clients may send {"type":"ping"} and get a pong back.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Events] Websocket upgrade failed", logger.ErrorField(err))
		return
	}
	client := events.NewClient(s.hub, conn, userID(r.Context()))
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	go client.WritePump()
	client.ReadPump(r.Context())
}
