package dal

import (
	"fmt"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// validateRequest 在权限检查与适配器调用之前执行，收集全部字段错误
func validateRequest(req *Request) error {
	var fields []dberrors.FieldError
	add := func(field, format string, args ...any) {
		fields = append(fields, dberrors.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !req.Operation.Valid() {
		add("operation", "unknown operation %q", req.Operation)
		return dberrors.Validation("invalid request", fields...)
	}

	switch {
	case req.Entity == "" && req.Operation != OpRaw:
		add("entity", "entity is required")
	case req.Entity != "" && !adapter.ValidIdentifier(req.Entity):
		add("entity", "invalid identifier %q", req.Entity)
	}

	for _, k := range adapter.SortedKeys(req.Conditions) {
		if !adapter.ValidIdentifier(k) {
			add("conditions."+k, "invalid column identifier")
		}
	}
	if (req.Operation == OpUpdate || req.Operation == OpDelete) && len(req.Conditions) == 0 {
		add("conditions", "%s requires at least one condition", req.Operation)
	}

	switch req.Operation {
	case OpInsert, OpUpdate:
		if rec, err := toRecord(req.Payload); err != nil {
			add("payload", "%v", err)
		} else if len(rec) == 0 {
			add("payload", "payload must not be empty")
		}
	case OpInsertMany:
		if recs, err := toRecords(req.Payload); err != nil {
			add("payload", "%v", err)
		} else if len(recs) == 0 {
			add("payload", "payload must contain at least one record")
		}
	case OpRaw:
		if req.Query == "" {
			add("query", "query is required for RAW")
		}
	}

	fields = appendStructErrors(fields, "options.", req.Options)
	for i, o := range req.Options.OrderBy {
		if o.Field != "" && !adapter.ValidIdentifier(o.Field) {
			add(fmt.Sprintf("options.orderBy[%d].field", i), "invalid column identifier")
		}
	}

	if req.TransactionOptions != nil {
		if req.TransactionID != "" {
			add("transactionOptions", "cannot start a transaction inside transaction %s", req.TransactionID)
		}
		fields = appendStructErrors(fields, "transactionOptions.", req.TransactionOptions)
	}
	if req.AutoCommit && req.TransactionID != "" {
		add("autoCommit", "autoCommit only applies to transactions started by this request")
	}

	if len(fields) > 0 {
		return dberrors.Validation("invalid request", fields...)
	}
	return nil
}

func appendStructErrors(fields []dberrors.FieldError, prefix string, obj any) []dberrors.FieldError {
	for _, fe := range validate.ValidateFields(obj) {
		fields = append(fields, dberrors.FieldError{Field: prefix + fe.Field, Message: fe.Message})
	}
	return fields
}

// toRecord 接受 Record 或 JSON 解码得到的对象
func toRecord(v any) (adapter.Record, error) {
	switch r := v.(type) {
	case adapter.Record:
		return r, nil
	case map[string]any:
		return adapter.Record(r), nil
	case nil:
		return nil, fmt.Errorf("payload is required")
	}
	return nil, fmt.Errorf("payload must be an object, got %T", v)
}

// toRecords 接受 []Record、[]map 或 JSON 解码得到的对象数组
func toRecords(v any) ([]adapter.Record, error) {
	switch rs := v.(type) {
	case []adapter.Record:
		return rs, nil
	case []map[string]any:
		out := make([]adapter.Record, len(rs))
		for i, r := range rs {
			out[i] = r
		}
		return out, nil
	case []any:
		out := make([]adapter.Record, len(rs))
		for i, item := range rs {
			r, err := toRecord(item)
			if err != nil {
				return nil, fmt.Errorf("payload[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("payload is required")
	}
	return nil, fmt.Errorf("payload must be an array of objects, got %T", v)
}
