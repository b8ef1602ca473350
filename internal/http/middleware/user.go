package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clausewise.app/analyzer/common/logger"
)

const (
	// UserIDHeader is set by the upstream auth gateway.
	UserIDHeader = "X-User-ID"
	UserIDKey    = "user_id"
)

// RequireUser rejects requests that did not pass through the auth gateway.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		c.Set(UserIDKey, userID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{UserID: logger.Ptr(userID)})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
