package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// CodeOK 成功响应的 code
const CodeOK = "OK"

// Response 统一响应结构。失败时 code 为错误族代码，data 为错误详情
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "ok", Data: data})
}

// Created 201 成功响应
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: CodeOK, Message: "created", Data: data})
}

// Fail 按错误族的状态码返回错误，非错误族的错误按 DATABASE_ERROR 处理
func Fail(c *gin.Context, err error) {
	de := dberrors.From(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(de.StatusCode, Response{
		Code:    string(de.Code),
		Message: de.Message,
		Data:    de.Details,
	})
}
