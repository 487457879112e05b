package rest

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

const (
	defaultTimeout = 10 * time.Second

	// defaultPrefix base_url 不带路径时使用的 API 前缀
	defaultPrefix = "/rest/v1"
)

// endpoint 解析后的后端地址
type endpoint struct {
	base    *url.URL
	apiKey  string
	timeout time.Duration
}

// parseEndpoint base_url 带路径时原样使用，否则补上 /rest/v1
func parseEndpoint(cfg adapter.ConnectionConfig) (*endpoint, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = cfg.URI
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: base_url is empty", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: base_url must start with http:// or https://", ErrInvalidConfig)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: base_url has no host", ErrInvalidConfig)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	if u.Path == "" {
		u.Path = defaultPrefix
	}
	u.RawQuery = ""
	u.Fragment = ""

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &endpoint{base: u, apiKey: cfg.APIKey, timeout: timeout}, nil
}

// resolve 拼接资源路径
func (e *endpoint) resolve(elem ...string) *url.URL {
	u := *e.base
	u.Path = strings.Join(append([]string{e.base.Path}, elem...), "/")
	return &u
}
