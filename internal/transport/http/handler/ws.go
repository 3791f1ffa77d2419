package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"interviewsim/internal/app"
	"interviewsim/internal/broadcast"
	"interviewsim/internal/transport/http/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers send an Origin header the reverse proxy is expected to police.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub              *broadcast.Hub
	interviewService *app.InterviewService
}

func NewWSHandler(hub *broadcast.Hub, interviewService *app.InterviewService) *WSHandler {
	return &WSHandler{hub: hub, interviewService: interviewService}
}

// Subscribe upgrades to WebSocket and attaches the caller as an observer of
// one of their sessions. The first frame announces the connection's socket id
// so the client can originate requests with X-Socket-ID and skip its own echo.
func (h *WSHandler) Subscribe(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID64, err := strconv.ParseUint(c.Query("session_id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	if _, err := h.interviewService.GetSession(userID, uint(sessionID64)); err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "subscribe failed")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	conn := h.hub.NewConnection(ws, uint(sessionID64))
	h.hub.Register(conn)

	if err := h.hub.SendJSON(conn, gin.H{"event": "connected", "socket_id": conn.ID}); err != nil {
		h.hub.Unregister(conn)
		ws.Close()
		return
	}

	go conn.WritePump()
	go conn.ReadPump(h.hub)
}
