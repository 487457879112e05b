package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// runFunc 提供执行用的 context 与数据库句柄，事务中的 context 绑定了会话
type runFunc func(ctx context.Context, fn func(ctx context.Context, db *mongo.Database) error) error

type executor struct {
	run runFunc
	now func() time.Time
}

var _ adapter.Executor = (*executor)(nil)

func collection(db *mongo.Database, entity string) (*mongo.Collection, error) {
	if err := adapter.ValidateIdentifier("entity", entity); err != nil {
		return nil, err
	}
	return db.Collection(entity), nil
}

func (e *executor) find(ctx context.Context, op, entity string, conds adapter.Conditions, opts adapter.FindOptions) ([]adapter.Record, error) {
	if err := adapter.ValidateIdentifier("entity", entity); err != nil {
		return nil, err
	}
	filter, err := buildFilter(conds)
	if err != nil {
		return nil, err
	}
	sort, err := buildSort(opts.OrderBy)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if len(sort) > 0 {
		findOpts.SetSort(sort)
	}

	var out []adapter.Record
	err = e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		cursor, err := db.Collection(entity).Find(ctx, filter, findOpts)
		if err != nil {
			return err
		}
		var docs []bson.M
		if err := cursor.All(ctx, &docs); err != nil {
			return err
		}
		out = make([]adapter.Record, len(docs))
		for i, d := range docs {
			out[i] = toRecord(d)
		}
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, op, err)
	}
	return out, nil
}

// Find 条件查询
func (e *executor) Find(ctx context.Context, entity string, conds adapter.Conditions, opts adapter.FindOptions) ([]adapter.Record, error) {
	return e.find(ctx, adapter.OpFind, entity, conds, opts)
}

// FindOne 查询一条，没有匹配返回 nil
func (e *executor) FindOne(ctx context.Context, entity string, conds adapter.Conditions) (adapter.Record, error) {
	rows, err := e.find(ctx, adapter.OpFindOne, entity, conds, adapter.FindOptions{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert 插入一条，返回带 _id 的记录
func (e *executor) Insert(ctx context.Context, entity string, data adapter.Record) (adapter.Record, error) {
	if err := adapter.RequireData(adapter.OpInsert, data); err != nil {
		return nil, err
	}
	doc, err := toDocument(data)
	if err != nil {
		return nil, err
	}

	var out adapter.Record
	err = e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		coll, err := collection(db, entity)
		if err != nil {
			return err
		}
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return err
		}
		out = withID(data, res.InsertedID)
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpInsert, err)
	}
	return out, nil
}

// InsertMany 批量插入
func (e *executor) InsertMany(ctx context.Context, entity string, data []adapter.Record) ([]adapter.Record, error) {
	if len(data) == 0 {
		return []adapter.Record{}, nil
	}
	docs := make([]any, len(data))
	for i, row := range data {
		if err := adapter.RequireData(adapter.OpInsertMany, row); err != nil {
			return nil, err
		}
		doc, err := toDocument(row)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}

	var out []adapter.Record
	err := e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		coll, err := collection(db, entity)
		if err != nil {
			return err
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return err
		}
		out = make([]adapter.Record, len(data))
		for i, row := range data {
			var id any
			if i < len(res.InsertedIDs) {
				id = res.InsertedIDs[i]
			}
			out[i] = withID(row, id)
		}
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpInsertMany, err)
	}
	return out, nil
}

func withID(data adapter.Record, id any) adapter.Record {
	out := make(adapter.Record, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if id != nil {
		out[idField] = normalize(id)
	}
	return out
}

// Update $set 更新全部匹配文档，返回按 条件+新值 回查到的第一条
func (e *executor) Update(ctx context.Context, entity string, conds adapter.Conditions, data adapter.Record) (adapter.Record, error) {
	if err := adapter.RequireConditions(adapter.OpUpdate, conds); err != nil {
		return nil, err
	}
	if err := adapter.RequireData(adapter.OpUpdate, data); err != nil {
		return nil, err
	}
	filter, err := buildFilter(conds)
	if err != nil {
		return nil, err
	}
	set, err := toDocument(data)
	if err != nil {
		return nil, err
	}
	after, err := buildFilter(adapter.Merge(conds, data))
	if err != nil {
		return nil, err
	}

	var (
		matched int64
		out     adapter.Record
	)
	err = e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		coll, err := collection(db, entity)
		if err != nil {
			return err
		}
		res, err := coll.UpdateMany(ctx, filter, bson.D{{Key: "$set", Value: set}})
		if err != nil {
			return err
		}
		matched = res.MatchedCount
		if matched == 0 {
			return nil
		}

		var doc bson.M
		err = coll.FindOne(ctx, after).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return nil
		}
		if err != nil {
			return err
		}
		out = toRecord(doc)
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpUpdate, err)
	}
	if matched == 0 || out == nil {
		return nil, dberrors.NotFound(entity)
	}
	return out, nil
}

// Delete 删除，soft 时写入 deleted_at
func (e *executor) Delete(ctx context.Context, entity string, conds adapter.Conditions, soft bool) (bool, error) {
	if err := adapter.RequireConditions(adapter.OpDelete, conds); err != nil {
		return false, err
	}
	filter, err := buildFilter(conds)
	if err != nil {
		return false, err
	}

	var affected int64
	err = e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		coll, err := collection(db, entity)
		if err != nil {
			return err
		}
		if soft {
			set := bson.D{{Key: adapter.SoftDeleteColumn, Value: e.now().UTC()}}
			res, err := coll.UpdateMany(ctx, filter, bson.D{{Key: "$set", Value: set}})
			if err != nil {
				return err
			}
			affected = res.MatchedCount
			return nil
		}
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return err
		}
		affected = res.DeletedCount
		return nil
	})
	if err != nil {
		return false, adapter.Wrap(engine, adapter.OpDelete, err)
	}
	return affected > 0, nil
}

// Count 计数
func (e *executor) Count(ctx context.Context, entity string, conds adapter.Conditions) (int64, error) {
	filter, err := buildFilter(conds)
	if err != nil {
		return 0, err
	}

	var n int64
	err = e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		coll, err := collection(db, entity)
		if err != nil {
			return err
		}
		n, err = coll.CountDocuments(ctx, filter)
		return err
	})
	if err != nil {
		return 0, adapter.Wrap(engine, adapter.OpCount, err)
	}
	return n, nil
}

// ExecuteRaw 执行扩展 JSON 格式的数据库命令，例如
// {"aggregate": "users", "pipeline": [], "cursor": {}}
func (e *executor) ExecuteRaw(ctx context.Context, query string, params ...any) ([]adapter.Record, error) {
	if len(params) > 0 {
		return nil, dberrors.Validation(ErrRawParams.Error(),
			dberrors.FieldError{Field: "params", Message: "must be empty"})
	}
	cmd, err := parseCommand(query)
	if err != nil {
		return nil, dberrors.Validation("invalid raw command: "+err.Error(),
			dberrors.FieldError{Field: "query", Message: "must be an extended JSON document"})
	}

	var out []adapter.Record
	err = e.run(ctx, func(ctx context.Context, db *mongo.Database) error {
		var result bson.M
		if err := db.RunCommand(ctx, cmd).Decode(&result); err != nil {
			return err
		}
		out = commandRecords(result)
		return nil
	})
	if err != nil {
		return nil, adapter.Wrap(engine, adapter.OpRaw, err)
	}
	return out, nil
}
