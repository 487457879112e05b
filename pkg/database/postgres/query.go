package postgres

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/sqlbuild"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

var dialect = sqlbuild.Postgres

// runFunc 为一次操作提供 querier：适配器从连接池借出连接，事务使用自己独占的连接
type runFunc func(ctx context.Context, fn func(q querier) error) error

// executor adapter.Executor 的 PostgreSQL 实现
type executor struct {
	run runFunc
	now func() time.Time
}

var _ adapter.Executor = (*executor)(nil)

func (e *executor) rows(ctx context.Context, op string, st sqlbuild.Statement) ([]adapter.Record, error) {
	var out []adapter.Record
	err := e.run(ctx, func(q querier) error {
		rows, err := collect(q.Query(ctx, st.SQL, st.Args...))
		if err != nil {
			return err
		}
		out = toRecords(rows)
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, op, err)
	}
	return out, nil
}

func (e *executor) exec(ctx context.Context, op string, st sqlbuild.Statement) (int64, error) {
	var affected int64
	err := e.run(ctx, func(q querier) error {
		tag, err := q.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, adapter.Wrap(engine, op, err)
	}
	return affected, nil
}

// Find 条件查询
func (e *executor) Find(ctx context.Context, entity string, conds adapter.Conditions, opts adapter.FindOptions) ([]adapter.Record, error) {
	st, err := dialect.Select(entity, conds, opts)
	if err != nil {
		return nil, err
	}
	return e.rows(ctx, adapter.OpFind, st)
}

// FindOne 查询一条，没有匹配返回 nil
func (e *executor) FindOne(ctx context.Context, entity string, conds adapter.Conditions) (adapter.Record, error) {
	st, err := dialect.Select(entity, conds, adapter.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	rows, err := e.rows(ctx, adapter.OpFindOne, st)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert 插入一条，返回数据库生成后的完整记录
func (e *executor) Insert(ctx context.Context, entity string, data adapter.Record) (adapter.Record, error) {
	if err := adapter.RequireData(adapter.OpInsert, data); err != nil {
		return nil, err
	}
	st, err := dialect.Insert(entity, []adapter.Record{data})
	if err != nil {
		return nil, err
	}
	rows, err := e.rows(ctx, adapter.OpInsert, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, adapter.Wrap(engine, adapter.OpInsert, errNoRowReturned)
	}
	return rows[0], nil
}

// InsertMany 单条语句批量插入
func (e *executor) InsertMany(ctx context.Context, entity string, data []adapter.Record) ([]adapter.Record, error) {
	if len(data) == 0 {
		return []adapter.Record{}, nil
	}
	for _, row := range data {
		if err := adapter.RequireData(adapter.OpInsertMany, row); err != nil {
			return nil, err
		}
	}
	st, err := dialect.Insert(entity, data)
	if err != nil {
		return nil, err
	}
	return e.rows(ctx, adapter.OpInsertMany, st)
}

// Update 更新并返回第一条更新后的记录
func (e *executor) Update(ctx context.Context, entity string, conds adapter.Conditions, data adapter.Record) (adapter.Record, error) {
	if err := adapter.RequireConditions(adapter.OpUpdate, conds); err != nil {
		return nil, err
	}
	if err := adapter.RequireData(adapter.OpUpdate, data); err != nil {
		return nil, err
	}
	st, err := dialect.Update(entity, conds, data)
	if err != nil {
		return nil, err
	}
	rows, err := e.rows(ctx, adapter.OpUpdate, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dberrors.NotFound(entity)
	}
	return rows[0], nil
}

// Delete 删除，soft 时写入 deleted_at
func (e *executor) Delete(ctx context.Context, entity string, conds adapter.Conditions, soft bool) (bool, error) {
	if err := adapter.RequireConditions(adapter.OpDelete, conds); err != nil {
		return false, err
	}

	var (
		st  sqlbuild.Statement
		err error
	)
	if soft {
		st, err = dialect.SoftDelete(entity, conds, adapter.SoftDeleteData(e.now()))
	} else {
		st, err = dialect.Delete(entity, conds)
	}
	if err != nil {
		return false, err
	}

	affected, err := e.exec(ctx, adapter.OpDelete, st)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Count 计数
func (e *executor) Count(ctx context.Context, entity string, conds adapter.Conditions) (int64, error) {
	st, err := dialect.Count(entity, conds)
	if err != nil {
		return 0, err
	}

	var n int64
	err = e.run(ctx, func(q querier) error {
		rows, err := q.Query(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, adapter.Wrap(engine, adapter.OpCount, err)
	}
	return n, nil
}

// ExecuteRaw 执行原生语句，参数使用 $n 占位
func (e *executor) ExecuteRaw(ctx context.Context, query string, params ...any) ([]adapter.Record, error) {
	return e.rows(ctx, adapter.OpRaw, sqlbuild.Statement{SQL: query, Args: params})
}

func toRecords(rows []map[string]any) []adapter.Record {
	out := make([]adapter.Record, len(rows))
	for i, r := range rows {
		out[i] = adapter.Record(r)
	}
	return out
}
