package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"liveroom/internal/logger"
	"liveroom/pkg/types"
)

// HandlerConfig holds the socket timings.
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
	}
}

var upgrader = websocket.Upgrader{
	// the feed carries no room content, only "something changed"
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades GET /ws?room=...&user_id=... into a change-feed subscription.
type Handler struct {
	hub *Hub
	cfg HandlerConfig
	log *logger.Logger
}

func NewHandler(hub *Hub, cfg HandlerConfig, log *logger.Logger) *Handler {
	def := DefaultHandlerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Handler{hub: hub, cfg: cfg, log: logger.OrNop(log).With("component", "ws")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user_id")

	if !types.IsValidRoomID(roomID) {
		http.Error(w, "Invalid room", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, userID, roomID, h.cfg.BufferSize, h.cfg.WriteTimeout)
	if err := h.hub.RegisterConnection(conn); err != nil {
		h.log.Warn("failed to register subscriber", "user", userID, "room", roomID, "error", err)
		_ = conn.Close()
		return
	}

	go h.readPump(conn, ws)
}

// readPump keeps the socket alive and notices when the peer goes away
// TECHNICAL DISCOVERY: the read deadline is pushed forward on every pong, so
// ReadTimeout must exceed PingInterval
func (h *Handler) readPump(conn *Connection, ws *websocket.Conn) {
	defer func() {
		if err := h.hub.UnregisterConnection(conn); err != nil {
			h.log.Debug("unregister skipped", "error", err)
		}
		_ = conn.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		// subscribers have nothing to say, anything they send is discarded
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket closed", "user", conn.UserID(), "error", err)
			}
			return
		}
	}
}
