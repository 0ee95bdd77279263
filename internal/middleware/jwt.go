package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/livecast/internal/auth"
)

// Context keys set by the JWT middleware
const (
	ContextUserID      = "user_id"
	ContextDisplayName = "display_name"
)

// JWTAuth creates middleware that rejects requests without a valid token
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		tokenString, ok := bearer(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			return
		}

		claims, err := auth.Parse(jwtSecret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		// Store user ID in context for handlers
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWT records the caller's identity when a valid token is present
// and lets every request through.
func OptionalJWT(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := bearer(c.GetHeader("Authorization")); ok {
			if claims, err := auth.Parse(jwtSecret, tokenString); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

func bearer(header string) (string, bool) {
	// Extract token from "Bearer <token>"
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID)
	if claims.DisplayName != "" {
		c.Set(ContextDisplayName, claims.DisplayName)
	}
}
