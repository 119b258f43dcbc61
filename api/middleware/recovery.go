package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/pkg/logger"
)

// Recovery turns a handler panic into a 500 in the job API's error shape.
// The panic goes to the process log with a stack and to the error category
// file, where it is visible through /api/v1/logs/error.
func Recovery(log *zap.Logger, events *logger.MultiLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}

			fields := []zap.Field{
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("error", fmt.Sprint(r)),
			}
			if id := c.Param("id"); id != "" {
				fields = append(fields, zap.String("job_id", id))
			}
			log.Error("Handler panicked", append(fields, zap.Stack("stack"))...)
			events.LogAppError("Panic recovered", fields...)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}()
		c.Next()
	}
}
