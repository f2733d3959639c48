package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/spotter/internal/telemetry"
	"go.uber.org/zap"
)

// userHeader carries the authenticated caller, set by the fronting gateway.
const userHeader = "X-User-ID"

const userKey = "spotter.user"

// traceContext continues the caller's trace for everything the request
// starts, turn spans included.
func traceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(telemetry.Extract(c.Request.Context(), c.Request.Header))
		c.Next()
	}
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := telemetry.TraceID(c.Request.Context()); id != "" {
			fields = append(fields, zap.String("trace_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.FullPath() == "/healthz":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// requireUser rejects requests without a caller identity.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(userHeader)
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}
