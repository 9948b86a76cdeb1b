package middlewares

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
)

// RecoveryLogger перехватывает панику обработчика. Если ответ уже начат
// (поток наблюдений), соединение просто закрывается без JSON.
func RecoveryLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, syscall.EPIPE) {
				log.Warn("client closed connection", "path", c.Request.URL.Path, "error", err)
				c.Abort()
				return
			}

			log.Error("panic recovered",
				"panic", r,
				"method", c.Request.Method,
				"route", c.FullPath(),
				"request_id", c.GetString(requestIDKey),
				"client_ip", c.ClientIP(),
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
		}()
		c.Next()
	}
}
