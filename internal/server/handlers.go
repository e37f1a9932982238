// Package server exposes the admin HTTP handlers: health check, room
// listing, and the live room feed served over WebSocket.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/tlvchat/internal/shutdown"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 54 * time.Second
)

// RoomFeedEvent is one message on the live room feed.
type RoomFeedEvent struct {
	At    time.Time  `json:"at"`
	Rooms []RoomInfo `json:"rooms"`
}

// AdminHandlers serves read-only views of the running rooms.
type AdminHandlers struct {
	directory    *Directory
	token        *shutdown.Token
	upgrader     websocket.Upgrader
	feedInterval time.Duration
	logger       zerolog.Logger
}

// NewAdminHandlers builds the handlers. The feed stops when token is canceled.
func NewAdminHandlers(directory *Directory, token *shutdown.Token, allowedOrigins []string, feedInterval time.Duration, logger zerolog.Logger) *AdminHandlers {
	logger = componentLogger(logger, "admin")
	if feedInterval <= 0 {
		feedInterval = time.Second
	}
	origins := newOriginPolicy(allowedOrigins, logger)

	return &AdminHandlers{
		directory: directory,
		token:     token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		feedInterval: feedInterval,
		logger:       logger,
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "tlvchat server is running!")
}

// RoomsHandler returns the current room snapshot as JSON.
func (h *AdminHandlers) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.directory.Snapshot()); err != nil {
		h.logger.Error().Err(err).Msg("Error encoding room snapshot")
	}
}

// RoomHandler returns one room by name, or 404 if no such room is open.
func (h *AdminHandlers) RoomHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := h.directory.Lookup(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		h.logger.Error().Err(err).Msg("Error encoding room")
	}
}

// RoomFeedHandler upgrades the request to a WebSocket and pushes a room
// snapshot every feed interval until the client leaves or the server stops.
func (h *AdminHandlers) RoomFeedHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Room feed upgrade failed")
		return
	}

	feed := &roomFeed{
		conn:   conn,
		gone:   make(chan struct{}),
		logger: h.logger.With().Str("remote", r.RemoteAddr).Logger(),
	}
	go feed.readPump()
	feed.writePump(h)
}

type roomFeed struct {
	conn   *websocket.Conn
	gone   chan struct{}
	logger zerolog.Logger
}

// readPump discards anything the observer sends and keeps control frames
// flowing. It closes gone when the connection ends.
func (f *roomFeed) readPump() {
	defer close(f.gone)

	if err := f.conn.SetReadDeadline(time.Now().Add(feedPongWait)); err != nil {
		f.logger.Debug().Err(err).Msg("Error setting initial read deadline")
	}
	f.conn.SetPongHandler(func(string) error {
		return f.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!isExpectedCloseError(err) {
				f.logger.Debug().Err(err).Msg("Room feed read error")
			}
			return
		}
	}
}

func (f *roomFeed) writePump(h *AdminHandlers) {
	ticker := time.NewTicker(h.feedInterval)
	ping := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
		if err := f.conn.Close(); err != nil && !isExpectedCloseError(err) {
			f.logger.Debug().Err(err).Msg("Error closing room feed")
		}
	}()

	if !f.sendSnapshot(h.directory) {
		return
	}

	for {
		select {
		case <-f.gone:
			return
		case <-h.token.Done():
			f.writeClose()
			return
		case <-ticker.C:
			if !f.sendSnapshot(h.directory) {
				return
			}
		case <-ping.C:
			if !f.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (f *roomFeed) sendSnapshot(directory *Directory) bool {
	payload, err := json.Marshal(RoomFeedEvent{At: time.Now().UTC(), Rooms: directory.Snapshot()})
	if err != nil {
		f.logger.Error().Err(err).Msg("Error encoding room feed event")
		return false
	}
	return f.write(websocket.TextMessage, payload)
}

func (f *roomFeed) write(messageType int, payload []byte) bool {
	if err := f.conn.SetWriteDeadline(time.Now().Add(feedWriteWait)); err != nil {
		f.logger.Debug().Err(err).Msg("Error setting write deadline")
		return false
	}
	if err := f.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			f.logger.Debug().Err(err).Msg("Error writing to room feed")
		}
		return false
	}
	return true
}

func (f *roomFeed) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(feedWriteWait)); err != nil &&
		!isExpectedCloseError(err) {
		f.logger.Debug().Err(err).Msg("Error writing close message")
	}
}
