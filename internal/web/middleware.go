package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// recovery turns a handler panic into a 500 with the usual error body.
func recovery(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("web panic recovered: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "Internal server error"))
			}
		}()
		c.Next()
	}
}

// requestLogger logs requests at debug level.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		c.Next()

		logger.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("web request")
	}
}

// noCache keeps browsers from caching API responses.
func noCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}

// errorHandler renders the last error attached by a handler.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		status := c.Writer.Status()
		if status == http.StatusOK {
			status = http.StatusInternalServerError
		}
		c.JSON(status, errorBody("REQUEST_ERROR", c.Errors.Last().Error()))
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
