package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"harbormaster/pkg/ctxkeys"
)

// JWTAuthMiddleware validates JWT session tokens on management endpoints and
// injects the account identity into the Gin context.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			// Browser clients typically use httpOnly cookies for auth.
			if cookieToken, err := c.Cookie("access_token"); err == nil && cookieToken != "" {
				auth = "Bearer " + cookieToken
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
				c.Abort()
				return
			}
		}

		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			c.Abort()
			return
		}

		claims, err := ValidateJWT(parts[1], secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(string(ctxkeys.KeyAccountID), claims.AccountID)
		c.Set(string(ctxkeys.KeyEmail), claims.Email)
		// Handlers and anything downstream of the gin context read the
		// identity from the request context.
		ctx := context.WithValue(c.Request.Context(), ctxkeys.KeyAccountID, claims.AccountID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
