package hertzapi

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"watchsync/internal/hertzws"
	"watchsync/internal/protocol"
	"watchsync/internal/rooms"
)

// NewRouter wires the hertz engine: healthz, room inspection and the
// protocol socket.
func NewRouter(h *server.Hertz, manager *rooms.Manager) *server.Hertz {
	wsHandler := hertzws.NewHandler(manager)

	h.Use(recoveryMiddleware())

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		api.GET("/rooms/:roomCode", handleGetRoom(manager))
		api.GET("/stats", handleStats(manager))
	}

	h.GET("/ws", wsHandler.HandleWebSocket)

	return h
}

func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

func handleGetRoom(manager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		info, err := manager.RoomInfo(ctx.Param("roomCode"))
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "room_fetch_failed", err.Error())
			return
		}
		ctx.JSON(consts.StatusOK, info)
	}
}

func handleStats(manager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomCount, clientCount := manager.Stats()
		ctx.JSON(consts.StatusOK, map[string]int{
			"rooms":   roomCount,
			"clients": clientCount,
		})
	}
}

func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
}
