package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elizafairlady/go-uiconn/ui/proto"
	"github.com/elizafairlady/go-uiconn/ui/view"
)

// Handler serves one Session per websocket connection.
type Handler struct {
	// NewApp builds the app of a new session.
	NewApp func() view.App

	// OnSession, if set, is called with every new session before its
	// first update is sent.
	OnSession func(*Session)

	Logger       *slog.Logger
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	upgrader websocket.Upgrader
}

// NewHandler creates a handler serving apps built by newApp.
func NewHandler(newApp func() view.App, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		NewApp:       newApp,
		Logger:       logger,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  time.Minute,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()

	logger := h.Logger.With("remote", r.RemoteAddr)
	s := NewSession(h.NewApp(), logger)
	if h.OnSession != nil {
		h.OnSession(s)
	}
	logger.Info("session started")
	defer func() { logger.Info("session ended", "session", s.String()) }()

	if !h.write(ws, s.Update(), logger) {
		return
	}
	for {
		if h.ReadTimeout > 0 {
			ws.SetReadDeadline(time.Now().Add(h.ReadTimeout))
		}
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if len(message) == 0 {
			// keepalive; answer so the client's read deadline moves too
			if !h.writeText(ws, nil, logger) {
				return
			}
			continue
		}
		b, err := proto.ParseCalls(string(message))
		if err != nil {
			logger.Warn("bad call batch", "error", err)
			return
		}
		u, err := s.HandleBatch(b)
		if err != nil {
			logger.Warn("call batch rejected", "error", err)
			continue
		}
		if !h.write(ws, u, logger) {
			return
		}
	}
}

// write sends u unless it is nil. It reports whether the connection is
// still usable.
func (h *Handler) write(ws *websocket.Conn, u *proto.Update, logger *slog.Logger) bool {
	if u == nil {
		return true
	}
	if !h.writeText(ws, []byte(proto.SerializeUpdate(u)), logger) {
		logger.Warn("update not sent", "sync", u.Sync)
		return false
	}
	return true
}

func (h *Handler) writeText(ws *websocket.Conn, message []byte, logger *slog.Logger) bool {
	if h.WriteTimeout > 0 {
		ws.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
	}
	if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
		logger.Warn("write failed", "error", err)
		return false
	}
	return true
}
