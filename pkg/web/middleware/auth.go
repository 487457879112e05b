package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/security"
)

// Auth 校验 Bearer 令牌，通过后把调用方身份放入 request context
func Auth(l logger.Logger, a *security.Authenticator) gin.HandlerFunc {
	header := a.Config().HeaderName
	return func(c *gin.Context) {
		if a.ShouldSkip(c.Request.URL.Path) {
			c.Next()
			return
		}
		if !a.AllowNetwork(c.ClientIP()) {
			l.Warn("request from denied network", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			abortAuth(c, http.StatusForbidden, "PERMISSION_DENIED", security.ErrNetworkDenied)
			return
		}

		id, err := a.Authenticate(c.GetHeader(header))
		if err != nil {
			l.Warn("authentication failed", "client_ip", c.ClientIP(), "path", c.Request.URL.Path, "error", err)
			abortAuth(c, http.StatusUnauthorized, "UNAUTHENTICATED", err)
			return
		}
		ctx := security.WithIdentity(c.Request.Context(), id)
		c.Request = c.Request.WithContext(logger.WithActor(ctx, id.Actor))
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, code string, err error) {
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="dal"`)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":    code,
		"message": err.Error(),
		"data":    nil,
	})
}
