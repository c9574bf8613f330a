package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bodyshop-storefront/internal/logging"
	"bodyshop-storefront/internal/metrics"
)

const (
	sessionHeader   = "X-Session-ID"
	sessionCookie   = "sf_session"
	requestIDHeader = "X-Request-ID"

	maxSessionIDLen = 128
)

type ctxKey string

const sessionCtxKey ctxKey = "session"

// sessionMiddleware resolves the caller's session id from the header or the
// cookie and stores it in the request context.
func sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(sessionHeader))
		if id == "" {
			if cookie, err := c.Cookie(sessionCookie); err == nil {
				id = strings.TrimSpace(cookie)
			}
		}
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("missing session id; call POST /api/v1/session first"))
			return
		}
		if len(id) > maxSessionIDLen || strings.ContainsAny(id, " \t\r\n") {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("malformed session id"))
			return
		}

		ctx := context.WithValue(c.Request.Context(), sessionCtxKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) string {
	id, _ := c.Request.Context().Value(sessionCtxKey).(string)
	return id
}

// requestID propagates the caller's request id or assigns one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(logging.RequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger writes one line per request through zerolog and records the
// request metrics.
func requestLogger(logger zerolog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		m.ObserveHTTP(c.FullPath(), c.Request.Method, status, elapsed)

		var evt *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			evt = logger.Error()
		case status >= http.StatusBadRequest:
			evt = logger.Warn()
		default:
			evt = logger.Debug()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str(logging.RequestID, c.GetString(logging.RequestID)).
			Str(logging.Session, sessionFrom(c)).
			Msg("request")
	}
}
