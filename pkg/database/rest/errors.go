package rest

import (
	"errors"
	"strconv"
)

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("rest: invalid config")

	// ErrInvalidResponse 响应无法解析
	ErrInvalidResponse = errors.New("rest: invalid response")
)

const engine = "REST"

// APIError 后端返回的非 2xx 响应
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "http status " + strconv.Itoa(e.Status)
	}
	return e.Message
}
