package dal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/prometheus"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (s *recordingSink) Log(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *recordingSink) snapshot() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.entries...)
}

type fixture struct {
	svc     *Service
	primary *memAdapter
	replica *memAdapter
	sink    *recordingSink
}

func newFixture(t *testing.T, cfg *Config, opts ...Option) *fixture {
	t.Helper()
	r, err := router.New(router.RoutingConfig{
		Primary:   "main",
		Fallbacks: []string{"replica"},
		Strategy:  router.StrategyFallback,
	})
	require.NoError(t, err)

	f := &fixture{primary: newMemAdapter(), replica: newMemAdapter(), sink: &recordingSink{}}
	require.NoError(t, r.Register("main", f.primary, 1))
	require.NoError(t, r.Register("replica", f.replica, 1))

	opts = append([]Option{WithAuditSink(f.sink)}, opts...)
	f.svc, err = New(cfg, r, opts...)
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Close(context.Background()) })
	return f
}

func (f *fixture) exec(t *testing.T, req *Request) *Response {
	t.Helper()
	resp, err := f.svc.Execute(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) seed(t *testing.T, entity string, rows ...adapter.Record) {
	t.Helper()
	for _, r := range rows {
		f.exec(t, &Request{Operation: OpInsert, Entity: entity, Payload: r})
	}
}

func TestStartAndClose(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.primary.started.Load())
	assert.True(t, f.replica.started.Load())

	require.NoError(t, f.svc.Close(context.Background()))
	assert.True(t, f.primary.closed.Load())

	_, err := f.svc.Execute(context.Background(), &Request{Operation: OpFind, Entity: "users"})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeUnavailable))
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestExecuteCRUD(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp := f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: map[string]any{"id": 1, "name": "alice"}})
	assert.Equal(t, adapter.Record{"id": 1, "name": "alice"}, resp.Data)
	assert.Equal(t, "main", resp.Metadata.Connection)

	resp = f.exec(t, &Request{Operation: OpInsertMany, Entity: "users", Payload: []any{
		map[string]any{"id": 2, "name": "bob"},
		map[string]any{"id": 3, "name": "carol"},
	}})
	require.NotNil(t, resp.Count)
	assert.EqualValues(t, 2, *resp.Count)

	resp = f.exec(t, &Request{Operation: OpCount, Entity: "users"})
	assert.EqualValues(t, 3, resp.Data)

	resp = f.exec(t, &Request{Operation: OpUpdate, Entity: "users",
		Conditions: adapter.Conditions{"id": 2}, Payload: adapter.Record{"name": "bobby"}})
	assert.Equal(t, "bobby", resp.Data.(adapter.Record)["name"])

	_, err := f.svc.Execute(ctx, &Request{Operation: OpUpdate, Entity: "users",
		Conditions: adapter.Conditions{"id": 99}, Payload: adapter.Record{"name": "x"}})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeNotFound))

	resp = f.exec(t, &Request{Operation: OpDelete, Entity: "users", Conditions: adapter.Conditions{"id": 3}, SoftDelete: true})
	assert.Equal(t, true, resp.Data)
	resp = f.exec(t, &Request{Operation: OpFindOne, Entity: "users", Conditions: adapter.Conditions{"id": 3}})
	assert.Contains(t, resp.Data.(adapter.Record), adapter.SoftDeleteColumn)

	resp = f.exec(t, &Request{Operation: OpDelete, Entity: "users", Conditions: adapter.Conditions{"id": 3}})
	assert.Equal(t, true, resp.Data)
	resp = f.exec(t, &Request{Operation: OpFindOne, Entity: "users", Conditions: adapter.Conditions{"id": 3}})
	assert.Nil(t, resp.Data)

	resp = f.exec(t, &Request{Operation: OpFind, Entity: "users", Options: adapter.FindOptions{Limit: 1}})
	assert.Len(t, resp.Data, 1)

	resp = f.exec(t, &Request{Operation: OpRaw, Query: "SELECT 1", Params: []any{1}})
	assert.Equal(t, []adapter.Record{{"query": "SELECT 1", "params": 1}}, resp.Data)

	_, err = f.svc.Execute(ctx, &Request{Operation: OpRaw, Query: "fail"})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeQuery))
}

func TestValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"unknown operation", Request{Operation: "MERGE", Entity: "users"}, "operation"},
		{"missing entity", Request{Operation: OpFind}, "entity"},
		{"bad entity", Request{Operation: OpFind, Entity: "users;drop"}, "entity"},
		{"bad column", Request{Operation: OpFind, Entity: "users", Conditions: adapter.Conditions{"a b": 1}}, "conditions.a b"},
		{"update without conditions", Request{Operation: OpUpdate, Entity: "users", Payload: adapter.Record{"a": 1}}, "conditions"},
		{"delete without conditions", Request{Operation: OpDelete, Entity: "users"}, "conditions"},
		{"insert without payload", Request{Operation: OpInsert, Entity: "users"}, "payload"},
		{"insert with array", Request{Operation: OpInsert, Entity: "users", Payload: []any{}}, "payload"},
		{"insert many empty", Request{Operation: OpInsertMany, Entity: "users", Payload: []any{}}, "payload"},
		{"insert many scalar", Request{Operation: OpInsertMany, Entity: "users", Payload: []any{1}}, "payload"},
		{"raw without query", Request{Operation: OpRaw}, "query"},
		{"negative limit", Request{Operation: OpFind, Entity: "users", Options: adapter.FindOptions{Limit: -1}}, "options.limit"},
		{"bad order field", Request{Operation: OpFind, Entity: "users",
			Options: adapter.FindOptions{OrderBy: []adapter.OrderBy{{Field: "x;y"}}}}, "options.orderBy[0].field"},
		{"nested transaction", Request{Operation: OpFind, Entity: "users", TransactionID: "t1",
			TransactionOptions: &transaction.Options{}}, "transactionOptions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.svc.Execute(context.Background(), &req)
			require.Error(t, err)
			de := dberrors.From(err)
			assert.Equal(t, dberrors.CodeValidation, de.Code)
			assert.Equal(t, 400, de.StatusCode)

			fields, _ := de.Details["fields"].([]dberrors.FieldError)
			names := make([]string, 0, len(fields))
			for _, fe := range fields {
				names = append(names, fe.Field)
			}
			assert.Contains(t, names, tt.field)
		})
	}
	assert.Zero(t, f.primary.calls.Load())
}

func TestReadsAreCached(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "users", adapter.Record{"id": 1})
	before := f.primary.calls.Load()

	req := &Request{Operation: OpFind, Entity: "users", Conditions: adapter.Conditions{"id": 1}}
	first := f.exec(t, req)
	second := f.exec(t, req)

	assert.False(t, first.Metadata.Cached)
	assert.True(t, second.Metadata.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, before+1, f.primary.calls.Load())

	// 不同分页是不同的键
	f.exec(t, &Request{Operation: OpFind, Entity: "users", Conditions: adapter.Conditions{"id": 1},
		Options: adapter.FindOptions{Limit: 5}})
	assert.Equal(t, before+2, f.primary.calls.Load())

	stats := f.svc.Stats()
	assert.EqualValues(t, 1, stats.Cache.L1Hits)
}

func TestWriteInvalidatesEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "users", adapter.Record{"id": 1})
	f.seed(t, "orders", adapter.Record{"id": 10})

	users := &Request{Operation: OpCount, Entity: "users"}
	orders := &Request{Operation: OpCount, Entity: "orders"}
	f.exec(t, users)
	f.exec(t, orders)

	f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 2}})

	resp := f.exec(t, users)
	assert.False(t, resp.Metadata.Cached)
	assert.EqualValues(t, 2, resp.Data)

	assert.True(t, f.exec(t, orders).Metadata.Cached)
}

func TestRoutingFallback(t *testing.T) {
	f := newFixture(t, nil)
	f.primary.setStatus(pool.StatusError)

	resp := f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 1}})
	assert.Equal(t, "replica", resp.Metadata.Connection)
	assert.EqualValues(t, 1, f.replica.calls.Load())
	assert.Zero(t, f.primary.calls.Load())
}

func TestPermission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Permission.Rules = []Rule{
		{Actor: "alice", Entity: "*", Operations: []string{"*"}},
		{Actor: "bob", Entity: "users", Operations: []string{"find", "COUNT"}},
	}
	f := newFixture(t, cfg)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, &Request{Operation: OpInsert, Entity: "users", Actor: "alice", Payload: adapter.Record{"id": 1}})
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, &Request{Operation: OpFind, Entity: "users", Actor: "bob"})
	require.NoError(t, err)

	calls := f.primary.calls.Load()
	_, err = f.svc.Execute(ctx, &Request{Operation: OpDelete, Entity: "users", Actor: "bob", Conditions: adapter.Conditions{"id": 1}})
	de := dberrors.From(err)
	require.NotNil(t, de)
	assert.Equal(t, dberrors.CodePermissionDenied, de.Code)
	assert.Equal(t, 403, de.StatusCode)
	assert.Equal(t, "bob", de.Details["actor"])
	assert.Equal(t, "DELETE", de.Details["operation"])
	assert.Equal(t, "users", de.Details["entity"])
	assert.Equal(t, calls, f.primary.calls.Load())

	_, err = f.svc.Execute(ctx, &Request{Operation: OpFind, Entity: "users", Actor: "mallory"})
	assert.True(t, dberrors.IsCode(err, dberrors.CodePermissionDenied))
}

func TestPermissionFailurePolicy(t *testing.T) {
	broken := PermissionFunc(func(context.Context, string, Operation, string, adapter.Conditions) (bool, error) {
		return false, errors.New("policy service unreachable")
	})

	f := newFixture(t, nil, WithPermissionChecker(broken))
	_, err := f.svc.Execute(context.Background(), &Request{Operation: OpFind, Entity: "users", Actor: "alice"})
	assert.True(t, dberrors.IsCode(err, dberrors.CodePermissionDenied))

	cfg := DefaultConfig()
	cfg.Permission.Policy = FailOpen
	f = newFixture(t, cfg, WithPermissionChecker(broken))
	_, err = f.svc.Execute(context.Background(), &Request{Operation: OpFind, Entity: "users", Actor: "alice"})
	assert.NoError(t, err)
}

func TestTransactionCommitInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "users", adapter.Record{"id": 1})
	count := &Request{Operation: OpCount, Entity: "users"}
	f.exec(t, count)

	info, err := f.svc.BeginTransaction(ctx, &BeginRequest{Entity: "users"})
	require.NoError(t, err)
	assert.Equal(t, transaction.StatePending, info.State)
	assert.Equal(t, "main", info.Connection)

	resp := f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 2}, TransactionID: info.ID})
	assert.Equal(t, info.ID, resp.Metadata.TransactionID)

	// 未提交的写不影响缓存
	resp = f.exec(t, count)
	assert.True(t, resp.Metadata.Cached)
	assert.EqualValues(t, 1, resp.Data)

	committed, err := f.svc.CommitTransaction(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCommitted, committed.State)
	assert.Equal(t, 1, committed.OperationsCount)

	resp = f.exec(t, count)
	assert.False(t, resp.Metadata.Cached)
	assert.EqualValues(t, 2, resp.Data)
}

func TestTransactionRollbackKeepsCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	count := &Request{Operation: OpCount, Entity: "users"}
	f.exec(t, count)

	resp := f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 1},
		TransactionOptions: &transaction.Options{IsolationLevel: adapter.Serializable}})
	txID := resp.Metadata.TransactionID
	require.NotEmpty(t, txID)

	info, ok := f.svc.Transaction(txID)
	require.True(t, ok)
	assert.Equal(t, adapter.Serializable, info.IsolationLevel)
	assert.Len(t, f.svc.Transactions(), 1)

	_, err := f.svc.RollbackTransaction(ctx, txID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.primary.rollbacks.Load())

	resp = f.exec(t, count)
	assert.True(t, resp.Metadata.Cached)
	assert.EqualValues(t, 0, resp.Data)

	_, err = f.svc.CommitTransaction(ctx, txID)
	assert.True(t, dberrors.IsCode(err, dberrors.CodeTransaction))
	assert.ErrorIs(t, err, transaction.ErrNotPending)
}

func TestAutoCommit(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 1}, AutoCommit: true})
	assert.NotEmpty(t, resp.Metadata.TransactionID)
	assert.EqualValues(t, 1, f.primary.commits.Load())

	info, ok := f.svc.Transaction(resp.Metadata.TransactionID)
	require.True(t, ok)
	assert.Equal(t, transaction.StateCommitted, info.State)
	assert.EqualValues(t, 1, f.exec(t, &Request{Operation: OpCount, Entity: "users"}).Data)
}

func TestFailedOperationRollsBackTransaction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	info, err := f.svc.BeginTransaction(ctx, &BeginRequest{Connection: "main"})
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, &Request{Operation: OpRaw, Query: "fail", TransactionID: info.ID})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeQuery))

	got, ok := f.svc.Transaction(info.ID)
	require.True(t, ok)
	assert.Equal(t, transaction.StateRolledBack, got.State)

	_, err = f.svc.Execute(ctx, &Request{Operation: OpFind, Entity: "users", TransactionID: info.ID})
	assert.ErrorIs(t, err, transaction.ErrNotPending)
}

func TestTransactionErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.BeginTransaction(ctx, &BeginRequest{Connection: "nope"})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeValidation))

	f.primary.txSupport = false
	_, err = f.svc.BeginTransaction(ctx, &BeginRequest{Entity: "users"})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeUnsupported))

	_, err = f.svc.Execute(ctx, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 1}, TransactionID: "missing"})
	assert.ErrorIs(t, err, transaction.ErrNotFound)
	f.svc.txMu.Lock()
	assert.Empty(t, f.svc.txEntities)
	f.svc.txMu.Unlock()
}

func TestCloseRollsBackPending(t *testing.T) {
	f := newFixture(t, nil)
	info, err := f.svc.BeginTransaction(context.Background(), &BeginRequest{Entity: "users"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(context.Background()))
	got, ok := f.svc.Transaction(info.ID)
	require.True(t, ok)
	assert.Equal(t, transaction.StateRolledBack, got.State)
	assert.EqualValues(t, 1, f.primary.rollbacks.Load())
}

func TestAuditRecordsSuccessAndFailure(t *testing.T) {
	f := newFixture(t, nil)

	f.exec(t, &Request{Operation: OpInsert, Entity: "users", Actor: "alice", Payload: adapter.Record{"id": 1}})
	_, _ = f.svc.Execute(context.Background(), &Request{Operation: OpDelete, Entity: "users", Actor: "alice"})

	require.Eventually(t, func() bool { return len(f.sink.snapshot()) == 2 }, time.Second, 10*time.Millisecond)

	byOp := make(map[Operation]AuditEntry)
	for _, e := range f.sink.snapshot() {
		byOp[e.Operation] = e
	}
	ok := byOp[OpInsert]
	assert.True(t, ok.Success)
	assert.Equal(t, "alice", ok.Actor)
	assert.Equal(t, "main", ok.Connection)
	assert.Equal(t, 1, ok.Rows)

	failed := byOp[OpDelete]
	assert.False(t, failed.Success)
	assert.Equal(t, string(dberrors.CodeValidation), failed.ErrorCode)
}

func TestAuditFailureDoesNotPropagate(t *testing.T) {
	f := newFixture(t, nil)
	f.sink.err = errors.New("disk full")

	_, err := f.svc.Execute(context.Background(), &Request{Operation: OpCount, Entity: "users"})
	assert.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.sink.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestMetrics(t *testing.T) {
	client, err := prometheus.New(nil)
	require.NoError(t, err)
	defer client.Close()

	f := newFixture(t, nil, WithMetrics(client))
	req := &Request{Operation: OpFind, Entity: "users"}
	f.exec(t, req)
	f.exec(t, req)
	_, _ = f.svc.Execute(context.Background(), &Request{Operation: OpDelete, Entity: "users"})

	ops, ok := client.GetCounter("operations_total")
	require.True(t, ok)
	assert.EqualValues(t, 2, testutil.ToFloat64(ops.WithLabelValues("users", "FIND", "success")))
	assert.EqualValues(t, 1, testutil.ToFloat64(ops.WithLabelValues("users", "DELETE", "VALIDATION_ERROR")))

	tiers, ok := client.GetCounter("cache_requests_total")
	require.True(t, ok)
	assert.EqualValues(t, 1, testutil.ToFloat64(tiers.WithLabelValues("l1", "hit")))

	healthy, ok := client.GetGauge("pool_healthy")
	require.True(t, ok)
	assert.EqualValues(t, 1, testutil.ToFloat64(healthy.WithLabelValues("main")))

	f.primary.setStatus(pool.StatusDisconnected)
	f.svc.refreshMetrics()
	assert.EqualValues(t, 0, testutil.ToFloat64(healthy.WithLabelValues("main")))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	h := f.svc.Health()
	assert.Equal(t, HealthOK, h.Status)
	assert.Equal(t, "main", h.Primary)
	require.Len(t, h.Connections, 2)
	assert.Equal(t, "Memory", h.Connections[0].Engine)

	f.replica.setStatus(pool.StatusError)
	assert.Equal(t, HealthDegraded, f.svc.Health().Status)

	f.primary.setStatus(pool.StatusDisconnected)
	assert.Equal(t, HealthDown, f.svc.Health().Status)
}

func TestTracingSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	f := newFixture(t, nil, WithTracer(tp.Tracer("dal")))

	f.exec(t, &Request{Operation: OpInsert, Entity: "users", Payload: adapter.Record{"id": 1}})
	_, err := f.svc.Execute(context.Background(), &Request{Operation: OpUpdate, Entity: "users",
		Conditions: adapter.Conditions{"id": 404}, Payload: adapter.Record{"name": "x"}})
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "dal INSERT", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("dal.connection", "main"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "dal UPDATE", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("dal.error_code", string(dberrors.CodeNotFound)))
}
