package web

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// BindJSON 绑定并校验请求体，失败时返回带字段错误的 VALIDATION_ERROR
func BindJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]dberrors.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, dberrors.FieldError{
				Field:   fe.Field(),
				Message: "failed on '" + fe.Tag() + "' validation",
			})
		}
		return dberrors.Validation("request validation failed", fields...)
	}
	return dberrors.Validation("invalid request body: " + err.Error())
}

// GetQuery 获取查询参数，带默认值
func GetQuery(c *gin.Context, key, defaultValue string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return defaultValue
}
