package mysql

import (
	"context"
	"database/sql"

	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
)

// querier *sql.Conn 与 *sql.Tx 共有的查询能力
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// conn 连接池中的一个原生连接
type conn struct {
	raw *sql.Conn
}

var (
	_ pool.Conn       = (*conn)(nil)
	_ pool.RawQuerier = (*conn)(nil)
)

func (c *conn) Ping(ctx context.Context) error {
	return c.raw.PingContext(ctx)
}

func (c *conn) Close(ctx context.Context) error {
	return c.raw.Close()
}

// Query 原生查询
func (c *conn) Query(ctx context.Context, text string, args ...any) ([]map[string]any, error) {
	rows, err := c.raw.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// connector 从 *sql.DB 中取出独占连接。*sql.DB 不保留空闲连接，
// 连接的复用完全交给 pool.Pool
type connector struct {
	db *sql.DB
}

func (c *connector) Connect(ctx context.Context) (*conn, error) {
	raw, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{raw: raw}, nil
}

// scanRows 将结果集读成 map，[]byte 转为 string
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
