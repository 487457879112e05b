package dal

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// memStore 内存中的表，按条件等值匹配
type memStore struct {
	mu    sync.Mutex
	rows  map[string][]adapter.Record
	calls atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]adapter.Record)}
}

func (s *memStore) clone() *memStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := newMemStore()
	for entity, rows := range s.rows {
		for _, r := range rows {
			out.rows[entity] = append(out.rows[entity], maps.Clone(r))
		}
	}
	return out
}

func match(r adapter.Record, conds adapter.Conditions) bool {
	for k, v := range conds {
		if fmt.Sprint(r[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (s *memStore) Find(_ context.Context, entity string, conds adapter.Conditions, opts adapter.FindOptions) ([]adapter.Record, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []adapter.Record
	for _, r := range s.rows[entity] {
		if match(r, conds) {
			out = append(out, maps.Clone(r))
		}
	}
	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memStore) FindOne(ctx context.Context, entity string, conds adapter.Conditions) (adapter.Record, error) {
	rows, err := s.Find(ctx, entity, conds, adapter.FindOptions{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *memStore) Insert(_ context.Context, entity string, data adapter.Record) (adapter.Record, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[entity] = append(s.rows[entity], maps.Clone(data))
	return maps.Clone(data), nil
}

func (s *memStore) InsertMany(ctx context.Context, entity string, data []adapter.Record) ([]adapter.Record, error) {
	out := make([]adapter.Record, 0, len(data))
	for _, d := range data {
		r, _ := s.Insert(ctx, entity, d)
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, entity string, conds adapter.Conditions, data adapter.Record) (adapter.Record, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	var first adapter.Record
	for _, r := range s.rows[entity] {
		if !match(r, conds) {
			continue
		}
		maps.Copy(r, data)
		if first == nil {
			first = maps.Clone(r)
		}
	}
	if first == nil {
		return nil, dberrors.NotFound(entity)
	}
	return first, nil
}

func (s *memStore) Delete(_ context.Context, entity string, conds adapter.Conditions, soft bool) (bool, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[entity][:0]
	deleted := false
	for _, r := range s.rows[entity] {
		if !match(r, conds) {
			kept = append(kept, r)
			continue
		}
		deleted = true
		if soft {
			maps.Copy(r, adapter.SoftDeleteData(time.Now()))
			kept = append(kept, r)
		}
	}
	s.rows[entity] = kept
	return deleted, nil
}

func (s *memStore) Count(ctx context.Context, entity string, conds adapter.Conditions) (int64, error) {
	rows, err := s.Find(ctx, entity, conds, adapter.FindOptions{})
	return int64(len(rows)), err
}

func (s *memStore) ExecuteRaw(_ context.Context, query string, params ...any) ([]adapter.Record, error) {
	s.calls.Add(1)
	if query == "fail" {
		return nil, dberrors.Query("Memory", adapter.OpRaw, fmt.Errorf("syntax error"))
	}
	return []adapter.Record{{"query": query, "params": len(params)}}, nil
}

// memAdapter 事务在副本上执行，提交时替换原表
type memAdapter struct {
	*memStore

	engine    string
	txSupport bool
	status    atomic.Value

	commits   atomic.Int64
	rollbacks atomic.Int64
	started   atomic.Bool
	closed    atomic.Bool
}

func newMemAdapter() *memAdapter {
	a := &memAdapter{memStore: newMemStore(), engine: "Memory", txSupport: true}
	a.status.Store(pool.StatusConnected)
	return a
}

func (a *memAdapter) setStatus(s pool.HealthStatus) { a.status.Store(s) }

func (a *memAdapter) Engine() string                   { return a.engine }
func (a *memAdapter) SupportsTransactions() bool       { return a.txSupport }
func (a *memAdapter) SupportsNestedTransactions() bool { return a.txSupport }

func (a *memAdapter) Health() pool.Health {
	return pool.Health{Status: a.status.Load().(pool.HealthStatus)}
}

func (a *memAdapter) Stats() pool.Stats {
	n := a.calls.Load()
	return pool.Stats{TotalQueries: n, SuccessfulQueries: n, IdleConnections: 1, MaxSize: 4}
}

func (a *memAdapter) Start(context.Context) error {
	a.started.Store(true)
	return nil
}

func (a *memAdapter) Close(context.Context) error {
	a.closed.Store(true)
	return nil
}

func (a *memAdapter) BeginTx(context.Context, adapter.TxOptions) (adapter.Tx, error) {
	if !a.txSupport {
		return nil, dberrors.Unsupported(a.engine, adapter.OpBegin)
	}
	return &memTx{memStore: a.memStore.clone(), parent: a}, nil
}

type memTx struct {
	*memStore
	parent *memAdapter
}

func (t *memTx) Commit(context.Context) error {
	t.parent.mu.Lock()
	t.parent.rows = t.memStore.rows
	t.parent.mu.Unlock()
	t.parent.commits.Add(1)
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.parent.rollbacks.Add(1)
	return nil
}

func (t *memTx) Savepoint(context.Context, string) error           { return nil }
func (t *memTx) RollbackToSavepoint(context.Context, string) error { return nil }
func (t *memTx) ReleaseSavepoint(context.Context, string) error    { return nil }
