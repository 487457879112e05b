package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseSize 单个响应体读取上限
const maxResponseSize = 32 << 20

// request 一次 HTTP 调用
type request struct {
	method string
	path   []string
	query  url.Values
	prefer []string
	// schema 非空时通过 Accept-Profile / Content-Profile 选择 schema
	schema string
	body   any
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// conn 共享 http.Client 的一个借出句柄
type conn struct {
	client *http.Client
	ep     *endpoint
}

// Ping 请求 API 根路径
func (c *conn) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{method: http.MethodGet})
	return err
}

// Close 底层连接由 http.Transport 管理
func (c *conn) Close(ctx context.Context) error {
	return nil
}

// Query 以 RPC 方式调用函数，text 为函数名，args 至多一个参数对象
func (c *conn) Query(ctx context.Context, text string, args ...any) ([]map[string]any, error) {
	r, err := rpcRequest(text, args)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	records, err := decodeRPC(resp.body)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = rec
	}
	return out, nil
}

func (c *conn) do(ctx context.Context, r request) (*response, error) {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	u := c.ep.resolve(r.path...)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ep.apiKey != "" {
		req.Header.Set("apikey", c.ep.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.ep.apiKey)
	}
	if len(r.prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(r.prefer, ","))
	}
	if r.schema != "" {
		switch r.method {
		case http.MethodGet, http.MethodHead:
			req.Header.Set("Accept-Profile", r.schema)
		default:
			req.Header.Set("Content-Profile", r.schema)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, data)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// apiError 优先解析后端的错误对象，否则使用响应文本
func apiError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
