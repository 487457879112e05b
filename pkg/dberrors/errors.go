// Package dberrors 定义数据访问层对外暴露的错误族。
//
// 所有错误都是 *DatabaseError，通过 Code 区分族类，StatusCode 给出对应的
// HTTP 语义。驱动原生错误在适配器边界被转换为 QUERY_ERROR，不会向外泄漏。
package dberrors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 错误码
type Code string

const (
	CodeDatabase         Code = "DATABASE_ERROR"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeQuery            Code = "QUERY_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeTransaction      Code = "TRANSACTION_ERROR"
	CodeUnsupported      Code = "UNSUPPORTED_OPERATION"
	CodeUnavailable      Code = "SERVICE_UNAVAILABLE"
)

// StatusOfCode 错误码对应的 HTTP 状态码
func StatusOfCode(code Code) int {
	switch code {
	case CodeValidation, CodeQuery:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransaction:
		return http.StatusConflict
	case CodeUnsupported:
		return http.StatusNotImplemented
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FieldError 字段级校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// DatabaseError 错误族基类
type DatabaseError struct {
	Code       Code           `json:"code"`
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`

	cause error
}

// Error 实现 error 接口
func (e *DatabaseError) Error() string {
	return e.Message
}

// Unwrap 返回内部原因（只会是本模块的哨兵错误，不会是驱动错误）
func (e *DatabaseError) Unwrap() error {
	return e.cause
}

// WithDetail 追加详情字段
func (e *DatabaseError) WithDetail(key string, value any) *DatabaseError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New 创建指定错误码的错误
func New(code Code, message string) *DatabaseError {
	return &DatabaseError{
		Code:       code,
		StatusCode: StatusOfCode(code),
		Message:    message,
	}
}

// Newf 创建指定错误码的格式化错误
func Newf(code Code, format string, args ...any) *DatabaseError {
	return New(code, fmt.Sprintf(format, args...))
}

// Validation 校验错误 (400)
func Validation(message string, fields ...FieldError) *DatabaseError {
	e := New(CodeValidation, message)
	if len(fields) > 0 {
		e.WithDetail("fields", fields)
	}
	return e
}

// PermissionDenied 权限错误 (403)
func PermissionDenied(actor, operation, entity string) *DatabaseError {
	return Newf(CodePermissionDenied, "actor %q is not allowed to %s %s", actor, strings.ToLower(operation), entity).
		WithDetail("actor", actor).
		WithDetail("operation", operation).
		WithDetail("entity", entity)
}

// Query 将适配器/驱动错误包装为统一格式: "<Engine> <operation> error: <message>"
// 已经是 *DatabaseError 的错误原样返回
func Query(engine, operation string, err error) error {
	if err == nil {
		return nil
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return err
	}
	return New(CodeQuery, fmt.Sprintf("%s %s error: %s", engine, operation, err.Error())).
		WithDetail("engine", engine).
		WithDetail("operation", operation)
}

// NotFound 记录不存在 (404)
func NotFound(entity string) *DatabaseError {
	return Newf(CodeNotFound, "no %s record matched the given conditions", entity).WithDetail("entity", entity)
}

// Transaction 事务状态错误 (409)，cause 用于 errors.Is 判断
func Transaction(cause error, format string, args ...any) *DatabaseError {
	e := Newf(CodeTransaction, format, args...)
	e.cause = cause
	return e
}

// Unsupported 引擎不支持的操作 (501)
func Unsupported(engine, operation string) *DatabaseError {
	return Newf(CodeUnsupported, "%s does not support %s", engine, operation).
		WithDetail("engine", engine).
		WithDetail("operation", operation)
}

// Unavailable 依赖暂不可用 (503)，cause 用于 errors.Is 判断
func Unavailable(cause error, format string, args ...any) *DatabaseError {
	e := Newf(CodeUnavailable, format, args...)
	e.cause = cause
	return e
}

// From 将任意错误转换为 *DatabaseError，非本族错误归为 DATABASE_ERROR
func From(err error) *DatabaseError {
	if err == nil {
		return nil
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return de
	}
	e := New(CodeDatabase, err.Error())
	e.cause = errors.WithStack(err)
	return e
}

// CodeOf 返回错误码，nil 返回空串
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// IsCode 判断错误是否属于指定错误族
func IsCode(err error, code Code) bool {
	var de *DatabaseError
	return errors.As(err, &de) && de.Code == code
}
