package handler

import (
	"anonchat/backend/internal/models"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type createIdentityRequest struct {
	DisplayName string `json:"display_name"`
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}

// CreateIdentity registers an identity and returns it with a token.
func (h *Handler) CreateIdentity(c *gin.Context) {
	var req createIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	identity, err := h.Chat.Identities.Register(c.Request.Context(), req.DisplayName)
	if err != nil {
		abortWithError(c, err)
		return
	}
	token, err := h.issueToken(identity.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "identity": identity})
}

// GetIdentity returns the public view of an identity. The display name is
// withheld.
func (h *Handler) GetIdentity(c *gin.Context) {
	identity, err := h.Chat.Identities.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           identity.ID,
		"avatar_color": identity.AvatarColor,
		"bio":          identity.Bio,
		"online":       h.Chat.Identities.IsOnline(identity),
	})
}

// UpdateProfile replaces the caller's display name and bio.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	identity, err := h.Chat.UpdateProfile(c.Request.Context(), selfID(c), req.DisplayName, req.Bio)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (h *Handler) TouchPresence(c *gin.Context) {
	if err := h.Chat.Identities.TouchPresence(c.Request.Context(), selfID(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
