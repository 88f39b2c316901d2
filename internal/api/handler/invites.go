package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) IssueInvite(c *gin.Context) {
	token, err := h.Invites.Issue(c.Request.Context(), selfID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, token)
}

// RedeemInvite needs no token: it mints a guest identity, opens a room
// with the issuer and hands the guest its credentials.
func (h *Handler) RedeemInvite(c *gin.Context) {
	ctx := c.Request.Context()
	guest, room, err := h.Invites.Redeem(ctx, c.Param("token"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	view, err := h.Chat.OpenChat(ctx, room.RoomID, guest.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	token, err := h.issueToken(guest.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "identity": guest, "chat": view})
}
