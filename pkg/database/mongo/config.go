package mongo

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

const (
	defaultPort    = 27017
	defaultTimeout = 10 * time.Second
)

// buildURI 构建连接 URI，cfg.URI 优先
func buildURI(cfg adapter.ConnectionConfig) (string, error) {
	if cfg.URI != "" {
		return cfg.URI, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/",
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String(), nil
}

// clientOptions 驱动自身的连接池上限与借出上限保持一致
func clientOptions(cfg adapter.ConnectionConfig, maxSize int) (*options.ClientOptions, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("%w: database is empty", ErrInvalidConfig)
	}
	uri, err := buildURI(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(uint64(maxSize)).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout), nil
}
