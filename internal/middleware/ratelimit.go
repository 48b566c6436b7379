package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/ratelimit"
)

// RateLimit bounds requests per client IP using the Hot-tier sliding window
// in internal/ratelimit. A nil limiter disables the check entirely.
func RateLimit(limiter *ratelimit.Limiter, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		allowed, info, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.WithError(err).Error("failed to check rate limit")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetUnix, 10))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false, "error_code": "RATE_LIMIT_EXCEEDED",
				"message": "rate limit exceeded, try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
