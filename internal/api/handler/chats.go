package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.Chat.ListChats(c.Request.Context(), selfID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) MarkSeen(c *gin.Context) {
	if err := h.Chat.MarkSeen(c.Request.Context(), c.Param("roomId"), selfID(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteChat removes the caller's chat-list entry. The counterpart's entry
// and the message log are kept.
func (h *Handler) DeleteChat(c *gin.Context) {
	if err := h.Chat.Delete(c.Request.Context(), c.Param("roomId"), selfID(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
