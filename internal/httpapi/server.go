package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"watchsync/internal/protocol"
	"watchsync/internal/rooms"
	"watchsync/internal/ws"
)

// Server is the echo-based engine: read-only room inspection plus the
// protocol socket. Room membership itself is negotiated in-band over
// the socket, not over REST.
type Server struct {
	rooms  *rooms.Manager
	ws     *ws.Handler
	router *echo.Echo
}

func NewServer(manager *rooms.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		rooms:  manager,
		ws:     ws.NewHandler(manager),
		router: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/api/rooms/:roomCode", server.handleGetRoom)
	e.GET("/api/stats", server.handleStats)
	e.GET("/ws", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleGetRoom(c echo.Context) error {
	info, err := s.rooms.RoomInfo(c.Param("roomCode"))
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return respondError(c, http.StatusNotFound, "room_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "room_fetch_failed", err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleStats(c echo.Context) error {
	roomCount, clientCount := s.rooms.Stats()
	return c.JSON(http.StatusOK, map[string]int{
		"rooms":   roomCount,
		"clients": clientCount,
	})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// The websocket handler takes full control of the connection;
	// return nil so echo writes nothing further.
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
}
