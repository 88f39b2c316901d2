package handler

import (
	"anonchat/backend/internal/config"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	jwt "github.com/golang-jwt/jwt/v5"
)

const identityKey = "identity_id"

var errMissingToken = errors.New("authorization token missing")

// issueToken signs an HS256 token whose subject is the identity id.
func (h *Handler) issueToken(identityID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identityID,
		Issuer:    config.TokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(config.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.secret)
}

// parseToken validates the token and returns the identity id it carries.
func (h *Handler) parseToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

// bearerToken reads the token from the Authorization header. Browsers
// cannot set headers on a WebSocket handshake, so the token query
// parameter is accepted as well.
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return token, nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errMissingToken
}

// RequireIdentity rejects requests without a valid token and stores the
// caller's identity id in the context.
func (h *Handler) RequireIdentity(c *gin.Context) {
	id, ok := h.authenticate(c)
	if !ok {
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func (h *Handler) authenticate(c *gin.Context) (string, bool) {
	token, err := bearerToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return "", false
	}
	id, err := h.parseToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return "", false
	}
	return id, true
}

func selfID(c *gin.Context) string {
	return c.GetString(identityKey)
}
