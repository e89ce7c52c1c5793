package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Logging returns a logging middleware for HTTP requests. Health and
// metrics scrapes are only logged at trace level.
func Logging() gin.HandlerFunc {
	webLogger := log.WithFields(log.Fields{"daemon": "gin"})
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		entry := webLogger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"status":   c.Writer.Status(),
			"time":     time.Since(startTime).String(),
			"client":   c.ClientIP(),
			"resource": c.Request.URL.Path,
		})
		switch path := c.Request.URL.Path; {
		case c.Writer.Status() >= 500:
			entry.Warn("Served Request")
		case path == "/health" || path == "/metrics":
			entry.Trace("Served Request")
		default:
			entry.Debug("Served Request")
		}
	}
}
