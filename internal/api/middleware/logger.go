package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/orderpoint/pkg/logger"
)

// RequestLog writes one structured line per request. Server errors are
// logged at error level so a failing replenish call stands out from the
// poll traffic.
func RequestLog() gin.HandlerFunc {
	apiLog := logger.WithComponent("api")
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		evt := apiLog.Info()
		if status >= http.StatusInternalServerError {
			evt = apiLog.Error()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.RequestURI()).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery converts handler panics into 500 responses instead of
// tearing down the server.
func Recovery() gin.HandlerFunc {
	apiLog := logger.WithComponent("api")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(apiLog, c, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func logPanic(log zerolog.Logger, c *gin.Context, r interface{}) {
	log.Error().
		Interface("panic", r).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("handler panicked")
}
