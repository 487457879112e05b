package middleware

import (
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// Recovery 捕获 panic，客户端断开时只记录日志，否则返回 500 响应体
func Recovery(l logger.Logger, stack bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			httpRequest, _ := httputil.DumpRequest(c.Request, false)
			if err, ok := r.(error); ok && isBrokenPipe(err) {
				l.Error("http broken pipe", "error", err, "request", string(httpRequest))
				_ = c.Error(err)
				c.Abort()
				return
			}

			fields := []interface{}{"panic", r, "request", string(httpRequest)}
			if stack {
				fields = append(fields, "stack", string(debug.Stack()))
			}
			l.ErrorContext(c.Request.Context(), "http recovery from panic", fields...)

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "internal server error",
				"data":    nil,
			})
		}()
		c.Next()
	}
}

func isBrokenPipe(err error) bool {
	var ne *net.OpError
	if !errors.As(err, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
