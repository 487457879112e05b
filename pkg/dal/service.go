// Package dal 数据访问服务：校验、授权、路由、事务与缓存编排。
//
// 一次请求的处理顺序为：参数校验 → 权限检查 → 路由选择连接 → 可选的事务 →
// 读操作查缓存 / 写操作执行后失效缓存 → 审计与指标。事务中的写操作在提交时
// 才失效缓存，回滚的写不会影响缓存。
package dal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lk2023060901/xdooria-dal/pkg/cache"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/redis"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/prometheus"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
	"github.com/lk2023060901/xdooria-dal/pkg/scheduler"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
)

// Service 数据访问服务
type Service struct {
	cfg     *Config
	logger  logger.Logger
	router  *router.Router
	txm     *transaction.Manager
	cache   *cache.Manager[*result]
	checker PermissionChecker
	audit   *auditor
	metrics *Metrics
	tracer  trace.Tracer

	sched     *scheduler.Scheduler
	ownsSched bool
	metricsID scheduler.TaskID

	// 事务内写过的实体，提交时失效
	txMu       sync.Mutex
	txEntities map[string]map[string]struct{}

	started atomic.Bool
	closed  atomic.Bool
}

// Option 服务选项
type Option func(*options)

type options struct {
	logger  logger.Logger
	sched   *scheduler.Scheduler
	redis   *redis.Client
	checker PermissionChecker
	sink    AuditSink
	prom    *prometheus.Client
	tracer  trace.Tracer
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithScheduler 共享调度器，未设置时服务自建
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *options) {
		o.sched = s
	}
}

// WithRedis 启用 L2 缓存
func WithRedis(c *redis.Client) Option {
	return func(o *options) {
		o.redis = c
	}
}

// WithPermissionChecker 替换按配置创建的权限检查器
func WithPermissionChecker(c PermissionChecker) Option {
	return func(o *options) {
		o.checker = c
	}
}

// WithAuditSink 设置审计存储，设置后总是启用审计
func WithAuditSink(s AuditSink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithMetrics 注册服务指标
func WithMetrics(c *prometheus.Client) Option {
	return func(o *options) {
		o.prom = c
	}
}

// WithTracer 为每次 Execute 创建 span
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// New 创建服务。服务接管 r 中已注册适配器的生命周期
func New(cfg *Config, r *router.Router, opts ...Option) (*Service, error) {
	merged, err := mergeConfig(cfg)
	if err != nil {
		return nil, err
	}
	o := &options{logger: logger.Noop()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{
		cfg:        merged,
		logger:     o.logger.Named("dal"),
		router:     r,
		checker:    o.checker,
		sched:      o.sched,
		tracer:     o.tracer,
		txEntities: make(map[string]map[string]struct{}),
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("dal")
	}
	if s.checker == nil {
		s.checker = NewPermissionChecker(merged.Permission)
	}
	if s.sched == nil {
		s.sched = scheduler.New(scheduler.WithLogger(s.logger))
		s.ownsSched = true
	}

	if o.prom != nil {
		if s.metrics, err = NewMetrics(o.prom); err != nil {
			return nil, err
		}
	}

	sink := o.sink
	if sink == nil && merged.Audit.Enabled {
		sink = NewLogAuditSink(o.logger)
	}
	if sink != nil {
		if s.audit, err = newAuditor(sink, merged.Audit, s.logger); err != nil {
			return nil, err
		}
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(o.logger),
		cache.WithScheduler(s.sched),
	}
	if s.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(s.metrics.observeCache))
	}
	if o.redis != nil {
		cacheOpts = append(cacheOpts, cache.WithRedis(o.redis))
	}
	if s.cache, err = cache.New[*result](merged.Cache, cacheOpts...); err != nil {
		return nil, err
	}

	if s.txm, err = transaction.New(merged.Transaction,
		transaction.WithLogger(o.logger),
		transaction.WithFinishHook(s.onTransactionFinished),
	); err != nil {
		return nil, err
	}
	return s, nil
}

// Start 启动适配器、缓存清理与指标刷新任务
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	for _, id := range s.router.Connections() {
		a, _ := s.router.Get(id)
		if err := a.Start(ctx); err != nil {
			return errors.Wrapf(err, "start connection %s", id)
		}
	}
	if err := s.cache.Start(); err != nil {
		return err
	}
	if s.metrics != nil && s.cfg.MetricsInterval > 0 {
		s.refreshMetrics()
		id, err := s.sched.Every("dal_metrics", s.cfg.MetricsInterval, func(context.Context) {
			s.refreshMetrics()
		})
		if err != nil {
			return err
		}
		s.metricsID = id
	}
	if s.ownsSched {
		s.sched.Start()
	}
	s.logger.Info("data access service started", "connections", s.router.Connections())
	return nil
}

func (s *Service) refreshMetrics() {
	s.metrics.refresh(s.router, s.txm.Stats().Active)
}

// Close 回滚未结束事务后关闭全部连接，等待排队的审计写完
func (s *Service) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.txm.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.metricsID != 0 {
		s.sched.Remove(s.metricsID)
	}
	if err := s.cache.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.router.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.audit != nil {
		timeout := 5 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		if err := s.audit.close(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ownsSched {
		if err := s.sched.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Router 路由器，用于热更新路由配置
func (s *Service) Router() *router.Router {
	return s.router
}

// Execute 执行一次数据访问请求
func (s *Service) Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if req.Actor != "" {
		ctx = logger.WithActor(ctx, req.Actor)
	}
	ctx, span := s.tracer.Start(ctx, "dal "+string(req.Operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("db.operation.name", string(req.Operation)),
			attribute.String("db.collection.name", req.Entity),
		),
	)
	defer span.End()

	entry := AuditEntry{
		Timestamp:     start,
		RequestID:     logger.RequestIDFrom(ctx),
		Actor:         req.Actor,
		Operation:     req.Operation,
		Entity:        req.Entity,
		TransactionID: req.TransactionID,
	}

	resp, err := s.execute(ctx, req, &entry)
	elapsed := time.Since(start)
	entry.Duration = elapsed

	status := "success"
	if err != nil {
		de := dberrors.From(err)
		status = string(de.Code)
		entry.ErrorCode = string(de.Code)
		entry.Error = de.Message
		span.SetStatus(codes.Error, de.Message)
		span.SetAttributes(attribute.String("dal.error_code", string(de.Code)))
		s.logger.DebugContext(ctx, "operation failed",
			"operation", req.Operation,
			"entity", req.Entity,
			"code", de.Code,
			"error", err,
		)
	} else {
		entry.Success = true
		entry.Cached = resp.Metadata.Cached
		entry.Connection = resp.Metadata.Connection
		entry.TransactionID = resp.Metadata.TransactionID
		resp.Metadata.ExecutionTime = elapsed
		span.SetAttributes(
			attribute.String("dal.connection", resp.Metadata.Connection),
			attribute.Bool("dal.cached", resp.Metadata.Cached),
		)
		if resp.Metadata.TransactionID != "" {
			span.SetAttributes(attribute.String("dal.transaction_id", resp.Metadata.TransactionID))
		}
	}
	s.metrics.observeOperation(req.Entity, req.Operation, status, elapsed)
	if s.audit != nil {
		s.audit.record(ctx, entry)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) execute(ctx context.Context, req *Request, entry *AuditEntry) (*Response, error) {
	if s.closed.Load() {
		return nil, dberrors.Unavailable(ErrServiceClosed, "data access service is closed")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	if req.TransactionID != "" {
		return s.executeInTransaction(ctx, req, entry)
	}
	if req.TransactionOptions != nil || req.AutoCommit {
		return s.executeInNewTransaction(ctx, req, entry)
	}

	route, err := s.router.Route(req.Entity)
	if err != nil {
		return nil, err
	}
	entry.Connection = route.ConnectionID

	resp := &Response{Metadata: Metadata{Connection: route.ConnectionID}}
	var res *result
	if req.Operation.Cacheable() && s.cache.Enabled() {
		key, kerr := s.cache.Key(string(req.Operation), req.Entity, req.Conditions, cacheOptions(req))
		if kerr != nil {
			return nil, dberrors.Validation(kerr.Error())
		}
		res, resp.Metadata.Cached, err = s.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*result, error) {
			return run(ctx, route.Adapter, req)
		})
	} else {
		res, err = run(ctx, route.Adapter, req)
	}
	if err != nil {
		return nil, err
	}

	if req.Operation.Write() {
		s.invalidate(ctx, req.Entity)
	}
	fill(resp, req.Operation, res)
	entry.Rows = res.rows()
	return resp, nil
}

// cacheOptions FIND_ONE 与 COUNT 不受分页排序影响
func cacheOptions(req *Request) any {
	if req.Operation == OpFind {
		return req.Options
	}
	return nil
}

// authorize 检查器出错时按配置的策略放行或拒绝
func (s *Service) authorize(ctx context.Context, req *Request) error {
	ok, err := s.checker.CheckPermission(ctx, req.Actor, req.Operation, req.Entity, req.Conditions)
	if err != nil {
		if s.cfg.Permission.Policy == FailOpen {
			s.logger.WarnContext(ctx, "permission check failed, allowing by policy",
				"operation", req.Operation,
				"entity", req.Entity,
				"error", err,
			)
			return nil
		}
		s.logger.WarnContext(ctx, "permission check failed, denying by policy",
			"operation", req.Operation,
			"entity", req.Entity,
			"error", err,
		)
		return dberrors.PermissionDenied(req.Actor, string(req.Operation), req.Entity).
			WithDetail("reason", "permission check failed")
	}
	if !ok {
		return dberrors.PermissionDenied(req.Actor, string(req.Operation), req.Entity)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, entity string) {
	if entity == "" {
		return
	}
	if n := s.cache.UnregisterEntity(ctx, entity); n > 0 {
		s.logger.DebugContext(ctx, "cache invalidated", "entity", entity, "keys", n)
	}
}

// run 在 exec 上执行操作，exec 为适配器或事务
func run(ctx context.Context, exec adapter.Executor, req *Request) (*result, error) {
	res := &result{}
	var err error
	switch req.Operation {
	case OpFind:
		res.Records, err = exec.Find(ctx, req.Entity, req.Conditions, req.Options)
	case OpFindOne:
		res.Record, err = exec.FindOne(ctx, req.Entity, req.Conditions)
	case OpInsert:
		var rec adapter.Record
		if rec, err = toRecord(req.Payload); err == nil {
			res.Record, err = exec.Insert(ctx, req.Entity, rec)
		}
	case OpInsertMany:
		var recs []adapter.Record
		if recs, err = toRecords(req.Payload); err == nil {
			res.Records, err = exec.InsertMany(ctx, req.Entity, recs)
		}
	case OpUpdate:
		var rec adapter.Record
		if rec, err = toRecord(req.Payload); err == nil {
			res.Record, err = exec.Update(ctx, req.Entity, req.Conditions, rec)
		}
	case OpDelete:
		res.Deleted, err = exec.Delete(ctx, req.Entity, req.Conditions, req.SoftDelete)
	case OpCount:
		var n int64
		if n, err = exec.Count(ctx, req.Entity, req.Conditions); err == nil {
			res.Count = &n
		}
	case OpRaw:
		res.Records, err = exec.ExecuteRaw(ctx, req.Query, req.Params...)
	default:
		err = dberrors.Validation("unknown operation " + string(req.Operation))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *result) rows() int {
	switch {
	case r.Count != nil:
		return int(*r.Count)
	case r.Record != nil:
		return 1
	case r.Deleted:
		return 1
	}
	return len(r.Records)
}

func fill(resp *Response, op Operation, res *result) {
	resp.Data = res.data(op)
	switch op {
	case OpCount:
		resp.Count = res.Count
	case OpFind, OpInsertMany, OpRaw:
		n := int64(len(res.Records))
		resp.Count = &n
	}
}
