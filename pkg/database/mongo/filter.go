package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
)

// idField 文档主键
const idField = "_id"

// buildFilter 等值条件转为过滤文档，键按字典序排列。
// _id 为 24 位十六进制字符串时转换为 ObjectID
func buildFilter(conds adapter.Conditions) (bson.D, error) {
	if err := adapter.ValidateColumns(conds); err != nil {
		return nil, err
	}
	filter := bson.D{}
	for _, k := range adapter.SortedKeys(conds) {
		filter = append(filter, bson.E{Key: k, Value: toObjectID(k, conds[k])})
	}
	return filter, nil
}

func toObjectID(key string, v any) any {
	if key != idField {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	if oid, err := bson.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return v
}

// buildSort 排序文档
func buildSort(order []adapter.OrderBy) (bson.D, error) {
	sort := bson.D{}
	for _, o := range order {
		o = o.Normalize()
		if err := adapter.ValidateIdentifier("column", o.Field); err != nil {
			return nil, err
		}
		dir := 1
		if o.Direction == adapter.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: o.Field, Value: dir})
	}
	return sort, nil
}

// toDocument 写入数据转为文档
func toDocument(data adapter.Record) (bson.D, error) {
	if err := adapter.ValidateColumns(data); err != nil {
		return nil, err
	}
	doc := bson.D{}
	for _, k := range adapter.SortedKeys(data) {
		doc = append(doc, bson.E{Key: k, Value: toObjectID(k, data[k])})
	}
	return doc, nil
}

// toRecord 驱动返回的文档转为与引擎无关的记录
func toRecord(doc bson.M) adapter.Record {
	out := make(adapter.Record, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

// normalize ObjectID 转为十六进制串，日期转为 time.Time，嵌套文档转为 map/slice
func normalize(v any) any {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.M:
		return map[string]any(toRecord(t))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

// parseCommand 解析扩展 JSON 格式的原生命令，保留键顺序
func parseCommand(query string) (bson.D, error) {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(query), false, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// commandRecords 命令返回游标时取 firstBatch，否则返回结果文档本身
func commandRecords(result bson.M) []adapter.Record {
	if cursor, ok := asM(result["cursor"]); ok {
		if batch, ok := cursor["firstBatch"].(bson.A); ok {
			out := make([]adapter.Record, 0, len(batch))
			for _, item := range batch {
				if doc, ok := asM(item); ok {
					out = append(out, toRecord(doc))
				}
			}
			return out
		}
	}
	return []adapter.Record{toRecord(result)}
}

// asM 嵌套文档可能被解码为 bson.M 或 bson.D
func asM(v any) (bson.M, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}
