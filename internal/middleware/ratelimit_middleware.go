package middleware

import (
	"context"
	"net/http"
	"strconv"

	"relaydesk/internal/redis"
	"relaydesk/internal/services"
	"relaydesk/internal/transport/httpdto"
	"relaydesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SendLimiter interface {
	AllowSend(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

type WebhookLimiter interface {
	AllowWebhook(ctx context.Context, ip string) (*redis.RateLimitResult, error)
}

// SendRateLimitMiddleware limits outbound sends per subject. Must run after
// AuthMiddleware. A nil limiter disables the check; limiter errors let the
// request through.
func SendRateLimitMiddleware(limiter SendLimiter, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		subject, ok := services.SubjectFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.AllowSend(c.Request.Context(), subject.UserID)
		if err != nil {
			warnLimiter(l, c, err)
			c.Next()
			return
		}
		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("send rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// WebhookRateLimitMiddleware limits provider callbacks per source address.
func WebhookRateLimitMiddleware(limiter WebhookLimiter, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		result, err := limiter.AllowWebhook(c.Request.Context(), c.ClientIP())
		if err != nil {
			warnLimiter(l, c, err)
			c.Next()
			return
		}
		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func warnLimiter(l *logger.Logger, c *gin.Context, err error) {
	if l == nil {
		return
	}
	l.WithContext(c.Request.Context()).Logger.Warn("rate limiter unavailable", zap.String("path", c.FullPath()), zap.Error(err))
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
