package slogging

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware returns a Gin middleware for logging requests
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := Get()

		logger.Debug("Request started - method=%s path=%s user_agent=%s",
			c.Request.Method, c.Request.URL.Path, c.GetHeader("User-Agent"))

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		statusCode := c.Writer.Status()

		switch {
		case statusCode >= 500:
			logger.Error("Request completed with server error - method=%s path=%s status=%d duration=%v",
				c.Request.Method, c.Request.URL.Path, statusCode, latency)
		case statusCode >= 400:
			logger.Warn("Request completed with client error - method=%s path=%s status=%d duration=%v",
				c.Request.Method, c.Request.URL.Path, statusCode, latency)
		default:
			logger.Info("Request completed - method=%s path=%s status=%d duration=%v size=%d",
				c.Request.Method, c.Request.URL.Path, statusCode, latency, c.Writer.Size())
		}
	}
}

// Recoverer creates middleware for recovering from handler panics
func Recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				Get().Error("PANIC in request handler - method=%s path=%s error=%v stack=%s",
					c.Request.Method, c.Request.URL.Path, err, debug.Stack())
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
