package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/authz"
)

// Auth enforces the optional admin bearer JWT (§6). When guard is disabled
// (JWT_SECRET_KEY unset) every request passes through untouched.
func Auth(guard *authz.Guard, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if guard == nil || !guard.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false, "error_code": "MISSING_AUTHORIZATION",
				"message": "Authorization header is required",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false, "error_code": "INVALID_AUTHORIZATION_FORMAT",
				"message": "Authorization header must be in format 'Bearer <token>'",
			})
			c.Abort()
			return
		}

		claims, err := guard.Validate(parts[1])
		if err != nil {
			logger.WithError(err).Warn("invalid admin token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false, "error_code": "INVALID_TOKEN",
				"message": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}
