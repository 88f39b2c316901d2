package handler

import (
	"anonchat/backend/internal/models"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type startChatRequest struct {
	CounterpartID string `json:"counterpart_id"`
}

type sendMessageRequest struct {
	Body     string `json:"body"`
	ImageRef string `json:"image_ref"`
}

func (h *Handler) StartChat(c *gin.Context) {
	var req startChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	view, err := h.Chat.StartChat(c.Request.Context(), selfID(c), req.CounterpartID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// OpenChat returns the presentation payload and marks the room seen.
func (h *Handler) OpenChat(c *gin.Context) {
	view, err := h.Chat.OpenChat(c.Request.Context(), c.Param("roomId"), selfID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// History pages through the log with ?after=<seq>&limit=<n>.
func (h *Handler) History(c *gin.Context) {
	after, err := queryInt(c, "after")
	if err != nil {
		abortWithError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, err)
		return
	}

	messages, err := h.Chat.History(c.Request.Context(), c.Param("roomId"), selfID(c), after, int(limit))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Media lists the room's image messages for the gallery view.
func (h *Handler) Media(c *gin.Context) {
	messages, err := h.Chat.Media(c.Request.Context(), c.Param("roomId"), selfID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	content := models.Content{Body: req.Body, ImageRef: req.ImageRef}
	msg, err := h.Chat.Send(c.Request.Context(), c.Param("roomId"), selfID(c), content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func queryInt(c *gin.Context, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrValidation, key)
	}
	return n, nil
}
