package hub

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// FrameHandler consumes inbound frames. Calls for one connection are made
// sequentially from that connection's reader, in arrival order.
type FrameHandler interface {
	HandleFrame(connID string, frame []byte)
	ConnectionClosed(connID string)
}

// WSHandler upgrades HTTP requests and pumps frames between the socket and
// the registry.
type WSHandler struct {
	reg      *Registry
	handler  FrameHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(reg *Registry, h FrameHandler, origins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		reg:     reg,
		handler: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		logger: logger.With("component", "ws"),
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := h.reg.Connect()
	go h.writePump(ws, c)
	go h.readPump(ws, c)
}

func (h *WSHandler) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		h.reg.Disconnect(c.ID)
		h.handler.ConnectionClosed(c.ID)
		_ = ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket read error", "conn_id", c.ID, "error", err)
			}
			return
		}
		h.handler.HandleFrame(c.ID, frame)
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Info("websocket write error", "conn_id", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseAll disconnects every open connection; their writers send a close
// frame and the readers report the closure to the handler.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Disconnect(id)
	}
}
