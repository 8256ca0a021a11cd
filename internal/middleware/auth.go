package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Ihnore-Ihor/PI-CMS/internal/auth"
)

// UserIDContextKey holds the authenticated external user id on the gin
// context.
const UserIDContextKey = "userID"

// AuthMiddleware validates the Authorization bearer credential with the
// identity verifier. Used on the HTTP surfaces outside the websocket; the
// websocket carries its credential in the authenticate event instead.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDContextKey, claims.ExternalID)
		c.Next()
	}
}
