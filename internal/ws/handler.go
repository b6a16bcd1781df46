package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/gorilla/websocket"

	"watchsync/internal/rooms"
)

const (
	// Ping cadence and how long an unanswered ping is tolerated. A
	// connection that misses its previous ping is terminated by the
	// read deadline, which routes it into the implicit-leave path.
	pingInterval = 60 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

// Handler upgrades HTTP requests to protocol sockets on the
// gorilla/websocket stack.
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.Upgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The response may already be partially written; nothing more
		// to send.
		ilog.EventInfo(ctx, "ws_upgrade_failed", "err", err)
		return
	}

	sess := rooms.NewSession(conn)
	go sess.SendLoop()

	done := make(chan struct{})
	go h.pingLoop(conn, done)

	h.readLoop(sess, conn)
	close(done)

	h.manager.SessionLost(sess)
	sess.Close()
}

func (h *Handler) readLoop(sess *rooms.Session, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ilog.EventInfo(context.Background(), "ws_read_error", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.manager.HandleMessage(sess, data)
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
