package middleware

import (
	"context"
	"net/http"
	"strings"

	"relaydesk/internal/services"
	"relaydesk/internal/transport/httpdto"
	"relaydesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

const subjectContextKey = "subject"

// TokenVerifier turns a bearer credential into a subject.
type TokenVerifier interface {
	Verify(token string) (services.Subject, error)
}

func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := verifier.Verify(extractBearer(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		ctx := services.WithSubject(c.Request.Context(), subject)
		ctx = context.WithValue(ctx, logger.UserIdKey, subject.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// RequireRoles must run after AuthMiddleware.
func RequireRoles(roles ...services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := services.SubjectFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		for _, r := range roles {
			if subject.Role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("forbidden", "FORBIDDEN"))
		c.Abort()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
