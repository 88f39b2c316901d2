package handler

import (
	"anonchat/backend/internal/chathub"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the web client's origin once it has a fixed domain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the connection and registers it with the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	if _, err := h.Chat.Identities.Resolve(c.Request.Context(), userID); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, userID)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	client.Run()
}
