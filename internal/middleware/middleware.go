package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oggyb/chaperone/internal/auth"
	"github.com/oggyb/chaperone/internal/logger"
)

// Keys stored in gin.Context by the middlewares below.
const (
	ContextKeyUserID    = "user_id"
	ContextKeyRole      = "role"
	ContextKeyRequestID = "request_id"

	HeaderRequestID = "X-Request-ID"
)

// Auth validates the bearer token and stores the caller in the context.
// Browsers cannot set headers on a websocket handshake, so an access_token
// query parameter is accepted as well.
func Auth(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  "UNAUTHENTICATED",
			})
			return
		}
		userID, _ := claims.UserID()

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyRole, claims.Role)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(),
			logger.FromContext(c.Request.Context(), logger.L()).With("user", userID)))
		c.Next()
	}
}

func bearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// UserID returns the authenticated account id, or 0 outside Auth.
func UserID(c *gin.Context) uint64 {
	val, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0
	}
	id, _ := val.(uint64)
	return id
}

// Role returns the role claim of the authenticated account.
func Role(c *gin.Context) string {
	return c.GetString(ContextKeyRole)
}

// RequestID propagates X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Logger attaches a request-scoped slog logger to the request context and
// logs one line per request.
func Logger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := base.With("request_id", c.GetString(ContextKeyRequestID))
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if id := UserID(c); id != 0 {
			attrs = append(attrs, "user", id)
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			l.Error("request", attrs...)
		case status >= http.StatusBadRequest:
			l.Warn("request", attrs...)
		default:
			l.Info("request", attrs...)
		}
	}
}

// Timeout bounds the request context. Handlers observe it through
// context.DeadlineExceeded from the services they call.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
