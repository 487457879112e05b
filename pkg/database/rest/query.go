package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

const (
	preferRepresentation = "return=representation"
	preferMissingDefault = "missing=default"
	preferCountExact     = "count=exact"

	// rawResultKey 标量返回值包装成记录时使用的键
	rawResultKey = "result"
)

// splitEntity 拆分 schema.table
func splitEntity(entity string) (schema, table string, err error) {
	if err := adapter.ValidateIdentifier("entity", entity); err != nil {
		return "", "", err
	}
	if i := strings.IndexByte(entity, '.'); i >= 0 {
		return entity[:i], entity[i+1:], nil
	}
	return "", entity, nil
}

// filterValue 等值条件的过滤表达式，nil 为 is.null，切片为 in.(...)
func filterValue(v any) string {
	if v == nil {
		return "is.null"
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = quoteListItem(scalar(rv.Index(i).Interface()))
		}
		return "in.(" + strings.Join(items, ",") + ")"
	}
	return "eq." + scalar(v)
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// quoteListItem in 列表中含保留字符的值需要加双引号
func quoteListItem(s string) string {
	if !strings.ContainsAny(s, `,()" `) {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// buildFilters 按列名排序写入过滤参数
func buildFilters(q url.Values, conds adapter.Conditions) error {
	if err := adapter.ValidateColumns(conds); err != nil {
		return err
	}
	for _, k := range adapter.SortedKeys(conds) {
		q.Add(k, filterValue(conds[k]))
	}
	return nil
}

// buildOrder 生成 order=col.desc,col2.asc
func buildOrder(order []adapter.OrderBy) (string, error) {
	parts := make([]string, 0, len(order))
	for _, o := range order {
		if err := adapter.ValidateIdentifier("order field", o.Field); err != nil {
			return "", err
		}
		o = o.Normalize()
		parts = append(parts, o.Field+"."+strings.ToLower(string(o.Direction)))
	}
	return strings.Join(parts, ","), nil
}

func decodeRecords(body []byte) ([]adapter.Record, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return []adapter.Record{}, nil
	}
	var rows []adapter.Record
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if rows == nil {
		rows = []adapter.Record{}
	}
	return rows, nil
}

// decodeRPC 函数可能返回对象数组、单个对象或标量
func decodeRPC(body []byte) ([]adapter.Record, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return []adapter.Record{}, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	switch x := v.(type) {
	case []any:
		out := make([]adapter.Record, len(x))
		for i, item := range x {
			out[i] = asRecord(item)
		}
		return out, nil
	default:
		return []adapter.Record{asRecord(x)}, nil
	}
}

func asRecord(v any) adapter.Record {
	if m, ok := v.(map[string]any); ok {
		return adapter.Record(m)
	}
	return adapter.Record{rawResultKey: v}
}

// rpcRequest 函数调用请求，参数必须是对象
func rpcRequest(fn string, params []any) (request, error) {
	schema, name, err := splitEntity(fn)
	if err != nil {
		return request{}, err
	}
	var body any = map[string]any{}
	switch len(params) {
	case 0:
	case 1:
		switch p := params[0].(type) {
		case nil:
		case map[string]any, adapter.Record, adapter.Conditions:
			body = p
		default:
			return request{}, dberrors.Validation("rpc parameters must be an object",
				dberrors.FieldError{Field: "params", Message: "must be a single object"})
		}
	default:
		return request{}, dberrors.Validation("rpc takes at most one parameter object",
			dberrors.FieldError{Field: "params", Message: "must be a single object"})
	}
	return request{
		method: http.MethodPost,
		path:   []string{"rpc", name},
		schema: schema,
		body:   body,
	}, nil
}

// parseContentRange 解析 Content-Range: 0-24/3573 中的总数
func parseContentRange(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i == len(v)-1 {
		return 0, fmt.Errorf("%w: content-range %q", ErrInvalidResponse, v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("%w: content-range %q has no total", ErrInvalidResponse, v)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: content-range %q", ErrInvalidResponse, v)
	}
	return n, nil
}

func (a *Adapter) send(ctx context.Context, op string, r request) (*response, error) {
	var resp *response
	err := a.pool.Do(ctx, func(c *conn) error {
		var err error
		resp, err = c.do(ctx, r)
		return err
	})
	if err != nil {
		return nil, adapter.Wrap(engine, op, err)
	}
	return resp, nil
}

func (a *Adapter) find(ctx context.Context, op, entity string, conds adapter.Conditions, opts adapter.FindOptions) ([]adapter.Record, error) {
	schema, table, err := splitEntity(entity)
	if err != nil {
		return nil, err
	}
	q := url.Values{"select": {"*"}}
	if err := buildFilters(q, conds); err != nil {
		return nil, err
	}
	order, err := buildOrder(opts.OrderBy)
	if err != nil {
		return nil, err
	}
	if order != "" {
		q.Set("order", order)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	resp, err := a.send(ctx, op, request{method: http.MethodGet, path: []string{table}, query: q, schema: schema})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRecords(resp.body)
	if err != nil {
		return nil, adapter.Wrap(engine, op, err)
	}
	return rows, nil
}

// Find 条件查询
func (a *Adapter) Find(ctx context.Context, entity string, conds adapter.Conditions, opts adapter.FindOptions) ([]adapter.Record, error) {
	return a.find(ctx, adapter.OpFind, entity, conds, opts)
}

// FindOne 查询一条，没有匹配返回 nil
func (a *Adapter) FindOne(ctx context.Context, entity string, conds adapter.Conditions) (adapter.Record, error) {
	rows, err := a.find(ctx, adapter.OpFindOne, entity, conds, adapter.FindOptions{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert 插入一条，返回后端回写的记录
func (a *Adapter) Insert(ctx context.Context, entity string, data adapter.Record) (adapter.Record, error) {
	if err := adapter.RequireData(adapter.OpInsert, data); err != nil {
		return nil, err
	}
	if err := adapter.ValidateColumns(data); err != nil {
		return nil, err
	}
	schema, table, err := splitEntity(entity)
	if err != nil {
		return nil, err
	}

	resp, err := a.send(ctx, adapter.OpInsert, request{
		method: http.MethodPost,
		path:   []string{table},
		prefer: []string{preferRepresentation},
		schema: schema,
		body:   data,
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRecords(resp.body)
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpInsert, err)
	}
	if len(rows) == 0 {
		return copyRecord(data), nil
	}
	return rows[0], nil
}

// InsertMany 批量插入，缺失的列使用默认值
func (a *Adapter) InsertMany(ctx context.Context, entity string, data []adapter.Record) ([]adapter.Record, error) {
	if len(data) == 0 {
		return []adapter.Record{}, nil
	}
	columns := make(map[string]struct{})
	for _, row := range data {
		if err := adapter.RequireData(adapter.OpInsertMany, row); err != nil {
			return nil, err
		}
		if err := adapter.ValidateColumns(row); err != nil {
			return nil, err
		}
		for k := range row {
			columns[k] = struct{}{}
		}
	}
	schema, table, err := splitEntity(entity)
	if err != nil {
		return nil, err
	}

	resp, err := a.send(ctx, adapter.OpInsertMany, request{
		method: http.MethodPost,
		path:   []string{table},
		query:  url.Values{"columns": {strings.Join(adapter.SortedKeys(columns), ",")}},
		prefer: []string{preferRepresentation, preferMissingDefault},
		schema: schema,
		body:   data,
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRecords(resp.body)
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpInsertMany, err)
	}
	return rows, nil
}

func copyRecord(r adapter.Record) adapter.Record {
	out := make(adapter.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Update 更新全部匹配记录，返回第一条
func (a *Adapter) Update(ctx context.Context, entity string, conds adapter.Conditions, data adapter.Record) (adapter.Record, error) {
	if err := adapter.RequireConditions(adapter.OpUpdate, conds); err != nil {
		return nil, err
	}
	if err := adapter.RequireData(adapter.OpUpdate, data); err != nil {
		return nil, err
	}
	if err := adapter.ValidateColumns(data); err != nil {
		return nil, err
	}
	schema, table, err := splitEntity(entity)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if err := buildFilters(q, conds); err != nil {
		return nil, err
	}

	resp, err := a.send(ctx, adapter.OpUpdate, request{
		method: http.MethodPatch,
		path:   []string{table},
		query:  q,
		prefer: []string{preferRepresentation},
		schema: schema,
		body:   data,
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRecords(resp.body)
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpUpdate, err)
	}
	if len(rows) == 0 {
		return nil, dberrors.NotFound(entity)
	}
	return rows[0], nil
}

// Delete 删除，soft 时写入 deleted_at
func (a *Adapter) Delete(ctx context.Context, entity string, conds adapter.Conditions, soft bool) (bool, error) {
	if err := adapter.RequireConditions(adapter.OpDelete, conds); err != nil {
		return false, err
	}
	schema, table, err := splitEntity(entity)
	if err != nil {
		return false, err
	}
	q := url.Values{}
	if err := buildFilters(q, conds); err != nil {
		return false, err
	}

	r := request{
		method: http.MethodDelete,
		path:   []string{table},
		query:  q,
		prefer: []string{preferRepresentation},
		schema: schema,
	}
	if soft {
		r.method = http.MethodPatch
		r.body = adapter.SoftDeleteData(a.now())
	}
	resp, err := a.send(ctx, adapter.OpDelete, r)
	if err != nil {
		return false, err
	}
	rows, err := decodeRecords(resp.body)
	if err != nil {
		return false, adapter.Wrap(engine, adapter.OpDelete, err)
	}
	return len(rows) > 0, nil
}

// Count 通过 Prefer: count=exact 读取 Content-Range 中的总数
func (a *Adapter) Count(ctx context.Context, entity string, conds adapter.Conditions) (int64, error) {
	schema, table, err := splitEntity(entity)
	if err != nil {
		return 0, err
	}
	q := url.Values{"select": {"*"}}
	if err := buildFilters(q, conds); err != nil {
		return 0, err
	}

	resp, err := a.send(ctx, adapter.OpCount, request{
		method: http.MethodHead,
		path:   []string{table},
		query:  q,
		prefer: []string{preferCountExact},
		schema: schema,
	})
	if err != nil {
		return 0, err
	}
	n, err := parseContentRange(resp.header.Get("Content-Range"))
	if err != nil {
		return 0, adapter.Wrap(engine, adapter.OpCount, err)
	}
	return n, nil
}

// ExecuteRaw 调用后端函数 POST rpc/<query>，params 至多一个参数对象
func (a *Adapter) ExecuteRaw(ctx context.Context, query string, params ...any) ([]adapter.Record, error) {
	r, err := rpcRequest(query, params)
	if err != nil {
		return nil, err
	}
	resp, err := a.send(ctx, adapter.OpRaw, r)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRPC(resp.body)
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpRaw, err)
	}
	return rows, nil
}
