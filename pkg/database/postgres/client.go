package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
)

// querier 连接与事务共有的查询能力
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// pgxConn *pgx.Conn 中适配器用到的部分
type pgxConn interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ pgxConn = (*pgx.Conn)(nil)

// conn 连接池中的一个原生连接
type conn struct {
	raw pgxConn
}

var (
	_ pool.Conn       = (*conn)(nil)
	_ pool.RawQuerier = (*conn)(nil)
)

func (c *conn) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx)
}

func (c *conn) Close(ctx context.Context) error {
	return c.raw.Close(ctx)
}

// Query 原生查询，结果按列名收集为 map
func (c *conn) Query(ctx context.Context, text string, args ...any) ([]map[string]any, error) {
	return collect(c.raw.Query(ctx, text, args...))
}

// connector 为连接池建立新连接
type connector struct {
	cfg *pgx.ConnConfig
}

func (c *connector) Connect(ctx context.Context) (*conn, error) {
	raw, err := pgx.ConnectConfig(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	return &conn{raw: raw}, nil
}

// collect 读取全部行
func collect(rows pgx.Rows, err error) ([]map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}
