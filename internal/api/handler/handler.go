// Package handler exposes the chat service over HTTP and WebSocket.
package handler

import (
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/invite"
	"anonchat/backend/internal/models"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler holds the services behind the HTTP routes.
type Handler struct {
	Hub     *chathub.ManagerService
	Chat    *chat.Service
	Invites *invite.Provisioner

	secret []byte
}

func NewHandler(hub *chathub.ManagerService, svc *chat.Service, invites *invite.Provisioner, jwtSecret string) *Handler {
	return &Handler{Hub: hub, Chat: svc, Invites: invites, secret: []byte(jwtSecret)}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.POST("/identities", h.CreateIdentity)
	r.GET("/identities/:id", h.GetIdentity)
	r.POST("/invites/:token/redeem", h.RedeemInvite)
	r.GET("/ws", h.ServeWebSocket)

	auth := r.Group("/", h.RequireIdentity)
	auth.POST("/presence", h.TouchPresence)
	auth.PATCH("/identities/me", h.UpdateProfile)

	auth.POST("/rooms", h.StartChat)
	auth.GET("/rooms/:roomId", h.OpenChat)
	auth.GET("/rooms/:roomId/messages", h.History)
	auth.GET("/rooms/:roomId/media", h.Media)
	auth.POST("/rooms/:roomId/messages", h.SendMessage)

	auth.GET("/chats", h.ListChats)
	auth.POST("/chats/:roomId/seen", h.MarkSeen)
	auth.DELETE("/chats/:roomId", h.DeleteChat)

	auth.POST("/invites", h.IssueInvite)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
