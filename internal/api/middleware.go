package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// secretHeader is set by the platform when the webhook was registered with a
// secret token.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// requireSecret rejects webhook calls whose path secret does not match. A
// secret header, when present, must match as well.
func (h *Handler) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.secret == "" || !secretEqual(c.Param("secret"), h.secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid webhook secret"})
			return
		}
		if header := c.GetHeader(secretHeader); header != "" && !secretEqual(header, h.secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
