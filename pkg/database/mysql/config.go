package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

const (
	defaultPort    = 3306
	defaultTimeout = 10 * time.Second
)

// buildDSN 构建 go-sql-driver/mysql 连接串，URI 优先
func buildDSN(cfg adapter.ConnectionConfig) (string, error) {
	if cfg.URI != "" {
		if _, err := driver.ParseDSN(cfg.URI); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
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
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	dc := driver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Timeout = timeout
	return dc.FormatDSN(), nil
}
