package hertzws

import (
	"context"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"

	"watchsync/internal/rooms"
)

const (
	pingInterval = 60 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

// Handler upgrades requests to protocol sockets on the hertz stack.
// Same loop as internal/ws, over hertz-contrib/websocket.
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.HertzUpgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		sess := rooms.NewSession(conn)
		go sess.SendLoop()

		done := make(chan struct{})
		go h.pingLoop(conn, done)

		h.readLoop(sess, conn)
		close(done)

		h.manager.SessionLost(sess)
		sess.Close()
	})
	if err != nil {
		ilog.EventInfo(c, "ws_upgrade_failed", "err", err)
	}
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
