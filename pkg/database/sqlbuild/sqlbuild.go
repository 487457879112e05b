// Package sqlbuild 基于 squirrel 为关系型适配器生成参数化语句。
//
// 标识符先经过 adapter.Quote 校验并加引号，值一律作为绑定参数传递。
package sqlbuild

import (
	"github.com/Masterminds/squirrel"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

// Dialect SQL 方言
type Dialect struct {
	// Quote 标识符引号
	Quote byte
	// Placeholder 参数占位符格式
	Placeholder squirrel.PlaceholderFormat
	// Returning 是否支持 RETURNING *
	Returning bool
}

var (
	// Postgres $n 占位符，双引号标识符
	Postgres = Dialect{Quote: '"', Placeholder: squirrel.Dollar, Returning: true}
	// MySQL ? 占位符，反引号标识符
	MySQL = Dialect{Quote: '`', Placeholder: squirrel.Question}
)

// Statement 生成的语句
type Statement struct {
	SQL  string
	Args []any
}

func (d Dialect) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// QuoteIdent 校验并包裹标识符
func (d Dialect) QuoteIdent(name string) (string, error) {
	return adapter.Quote(name, d.Quote)
}

// where 按键排序生成 AND 连接的等值条件
func (d Dialect) where(conds adapter.Conditions) (squirrel.Sqlizer, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	and := make(squirrel.And, 0, len(conds))
	for _, k := range adapter.SortedKeys(conds) {
		col, err := adapter.Quote(k, d.Quote)
		if err != nil {
			return nil, err
		}
		and = append(and, squirrel.Eq{col: conds[k]})
	}
	return and, nil
}

func finish(s squirrel.Sqlizer) (Statement, error) {
	sql, args, err := s.ToSql()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Args: args}, nil
}

// Select SELECT * ... WHERE ... ORDER BY ... LIMIT ... OFFSET ...
func (d Dialect) Select(table string, conds adapter.Conditions, opts adapter.FindOptions) (Statement, error) {
	t, err := d.QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	q := d.builder().Select("*").From(t)

	w, err := d.where(conds)
	if err != nil {
		return Statement{}, err
	}
	if w != nil {
		q = q.Where(w)
	}

	for _, o := range opts.OrderBy {
		o = o.Normalize()
		col, err := d.QuoteIdent(o.Field)
		if err != nil {
			return Statement{}, err
		}
		q = q.OrderBy(col + " " + string(o.Direction))
	}
	if opts.Limit > 0 {
		q = q.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Offset(uint64(opts.Offset))
	}
	return finish(q)
}

// Count SELECT COUNT(*) ...
func (d Dialect) Count(table string, conds adapter.Conditions) (Statement, error) {
	t, err := d.QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	q := d.builder().Select("COUNT(*)").From(t)

	w, err := d.where(conds)
	if err != nil {
		return Statement{}, err
	}
	if w != nil {
		q = q.Where(w)
	}
	return finish(q)
}

// Insert 多行插入，列取所有行键的并集，缺失的列写入 DEFAULT
func (d Dialect) Insert(table string, rows []adapter.Record) (Statement, error) {
	t, err := d.QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}

	union := make(adapter.Record)
	for _, row := range rows {
		for k := range row {
			union[k] = struct{}{}
		}
	}
	keys := adapter.SortedKeys(union)
	cols := make([]string, len(keys))
	for i, k := range keys {
		if cols[i], err = d.QuoteIdent(k); err != nil {
			return Statement{}, err
		}
	}

	q := d.builder().Insert(t).Columns(cols...)
	for _, row := range rows {
		vals := make([]any, len(keys))
		for i, k := range keys {
			v, ok := row[k]
			if !ok {
				vals[i] = squirrel.Expr("DEFAULT")
				continue
			}
			vals[i] = v
		}
		q = q.Values(vals...)
	}
	if d.Returning {
		q = q.Suffix("RETURNING *")
	}
	return finish(q)
}

// Update UPDATE ... SET ... WHERE ...
func (d Dialect) Update(table string, conds adapter.Conditions, data adapter.Record) (Statement, error) {
	t, err := d.QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	q := d.builder().Update(t)
	for _, k := range adapter.SortedKeys(data) {
		col, err := d.QuoteIdent(k)
		if err != nil {
			return Statement{}, err
		}
		q = q.Set(col, data[k])
	}

	w, err := d.where(conds)
	if err != nil {
		return Statement{}, err
	}
	if w != nil {
		q = q.Where(w)
	}
	if d.Returning {
		q = q.Suffix("RETURNING *")
	}
	return finish(q)
}

// Delete DELETE FROM ... WHERE ...
func (d Dialect) Delete(table string, conds adapter.Conditions) (Statement, error) {
	t, err := d.QuoteIdent(table)
	if err != nil {
		return Statement{}, err
	}
	q := d.builder().Delete(t)

	w, err := d.where(conds)
	if err != nil {
		return Statement{}, err
	}
	if w != nil {
		q = q.Where(w)
	}
	return finish(q)
}

// SoftDelete UPDATE ... SET deleted_at = ? WHERE ...，不带 RETURNING
func (d Dialect) SoftDelete(table string, conds adapter.Conditions, data adapter.Record) (Statement, error) {
	plain := d
	plain.Returning = false
	return plain.Update(table, conds, data)
}
