package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

const (
	defaultPort           = 5432
	defaultSSLMode        = "disable"
	defaultConnectTimeout = 10 * time.Second
)

// buildConnString 构建连接字符串，URI 优先
func buildConnString(cfg adapter.ConnectionConfig) (string, error) {
	if cfg.URI != "" {
		return cfg.URI, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("%w: database is empty", ErrInvalidConfig)
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseConfig 解析为 pgx 连接配置
func parseConfig(cfg adapter.ConnectionConfig) (*pgx.ConnConfig, error) {
	connString, err := buildConnString(cfg)
	if err != nil {
		return nil, err
	}
	pgxCfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pgxCfg.ConnectTimeout = timeout
	return pgxCfg, nil
}
