package mysql

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/sqlbuild"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

var dialect = sqlbuild.MySQL

// primaryKey 插入后回查使用的主键列
const primaryKey = "id"

type runFunc func(ctx context.Context, fn func(q querier) error) error

// executor adapter.Executor 的 MySQL 实现。MySQL 没有 RETURNING，
// 写操作在同一连接上回查得到完整记录
type executor struct {
	run runFunc
	now func() time.Time
}

var _ adapter.Executor = (*executor)(nil)

func query(ctx context.Context, q querier, st sqlbuild.Statement) ([]adapter.Record, error) {
	rows, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	maps, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.Record, len(maps))
	for i, m := range maps {
		out[i] = adapter.Record(m)
	}
	return out, nil
}

func (e *executor) rows(ctx context.Context, op string, st sqlbuild.Statement) ([]adapter.Record, error) {
	var out []adapter.Record
	err := e.run(ctx, func(q querier) error {
		var err error
		out, err = query(ctx, q, st)
		return err
	})
	if err != nil {
		return nil, adapter.Wrap(engine, op, err)
	}
	return out, nil
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

// Insert 插入后按主键回查
func (e *executor) Insert(ctx context.Context, entity string, data adapter.Record) (adapter.Record, error) {
	rows, err := e.insert(ctx, adapter.OpInsert, entity, []adapter.Record{data})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// InsertMany 单条语句批量插入
func (e *executor) InsertMany(ctx context.Context, entity string, data []adapter.Record) ([]adapter.Record, error) {
	if len(data) == 0 {
		return []adapter.Record{}, nil
	}
	return e.insert(ctx, adapter.OpInsertMany, entity, data)
}

func (e *executor) insert(ctx context.Context, op, entity string, data []adapter.Record) ([]adapter.Record, error) {
	for _, row := range data {
		if err := adapter.RequireData(op, row); err != nil {
			return nil, err
		}
	}
	st, err := dialect.Insert(entity, data)
	if err != nil {
		return nil, err
	}

	var out []adapter.Record
	err = e.run(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}

		keys, ok := insertedKeys(data, res.LastInsertId)
		if !ok {
			out = copyRecords(data)
			return nil
		}
		sel, err := dialect.Select(entity, adapter.Conditions{primaryKey: keys}, adapter.FindOptions{
			OrderBy: []adapter.OrderBy{{Field: primaryKey}},
		})
		if err != nil {
			return err
		}
		out, err = query(ctx, q, sel)
		if err != nil {
			return err
		}
		if len(out) != len(data) {
			out = copyRecords(data)
		}
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, op, err)
	}
	return out, nil
}

// insertedKeys 确定本次插入的主键：全部行自带主键时直接使用，
// 否则用自增 ID 推算连续区间
func insertedKeys(data []adapter.Record, lastInsertID func() (int64, error)) ([]any, bool) {
	keys := make([]any, 0, len(data))
	for _, row := range data {
		if v, ok := row[primaryKey]; ok {
			keys = append(keys, v)
		}
	}
	if len(keys) == len(data) {
		return keys, true
	}
	if len(keys) > 0 {
		return nil, false
	}

	first, err := lastInsertID()
	if err != nil || first <= 0 {
		return nil, false
	}
	for i := range data {
		keys = append(keys, first+int64(i))
	}
	return keys, true
}

func copyRecords(data []adapter.Record) []adapter.Record {
	out := make([]adapter.Record, len(data))
	for i, row := range data {
		c := make(adapter.Record, len(row))
		for k, v := range row {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// Update 更新后以 条件+新值 回查第一条记录
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
	sel, err := dialect.Select(entity, adapter.Merge(conds, data), adapter.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}

	var rows []adapter.Record
	err = e.run(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return err
		}
		rows, err = query(ctx, q, sel)
		return err
	})
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpUpdate, err)
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

	var affected int64
	err = e.run(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, adapter.Wrap(engine, adapter.OpDelete, err)
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
		rows, err := q.QueryContext(ctx, st.SQL, st.Args...)
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

// ExecuteRaw 执行原生语句，参数使用 ? 占位
func (e *executor) ExecuteRaw(ctx context.Context, text string, params ...any) ([]adapter.Record, error) {
	return e.rows(ctx, adapter.OpRaw, sqlbuild.Statement{SQL: text, Args: params})
}
