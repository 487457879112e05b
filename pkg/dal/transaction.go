package dal

import (
	"context"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
)

// BeginRequest 显式开启事务
type BeginRequest struct {
	// Connection 指定连接；为空时按 Entity 路由
	Connection string              `json:"connection,omitempty"`
	Entity     string              `json:"entity,omitempty"`
	Actor      string              `json:"actor,omitempty"`
	Options    transaction.Options `json:"options"`
}

// BeginTransaction 开启事务，返回的 id 用于后续请求的 TransactionID
func (s *Service) BeginTransaction(ctx context.Context, req *BeginRequest) (transaction.Info, error) {
	if s.closed.Load() {
		return transaction.Info{}, dberrors.Unavailable(ErrServiceClosed, "data access service is closed")
	}
	if req.Actor != "" {
		ctx = logger.WithActor(ctx, req.Actor)
	}
	if fields := appendStructErrors(nil, "options.", req.Options); len(fields) > 0 {
		return transaction.Info{}, dberrors.Validation("invalid transaction options", fields...)
	}

	connID, a, err := s.resolve(req.Connection, req.Entity)
	if err != nil {
		return transaction.Info{}, err
	}
	return s.txm.BeginTransaction(ctx, connID, a, req.Options)
}

// resolve 按连接 id 或实体找到适配器
func (s *Service) resolve(connection, entity string) (string, adapter.Adapter, error) {
	if connection != "" {
		a, ok := s.router.Get(connection)
		if !ok {
			return "", nil, dberrors.Validation("unknown connection",
				dberrors.FieldError{Field: "connection", Message: "connection " + connection + " is not registered"})
		}
		return connection, a, nil
	}
	route, err := s.router.Route(entity)
	if err != nil {
		return "", nil, err
	}
	return route.ConnectionID, route.Adapter, nil
}

// CommitTransaction 提交事务，事务内写过的实体随后失效
func (s *Service) CommitTransaction(ctx context.Context, id string) (transaction.Info, error) {
	return s.txm.CommitTransaction(ctx, id)
}

// RollbackTransaction 回滚事务
func (s *Service) RollbackTransaction(ctx context.Context, id string) (transaction.Info, error) {
	return s.txm.RollbackTransaction(ctx, id)
}

// CreateSavepoint 在事务中创建保存点，返回保存点 id
func (s *Service) CreateSavepoint(ctx context.Context, id, name string) (string, error) {
	return s.txm.CreateSavepoint(ctx, id, name)
}

// RollbackToSavepoint 回滚到保存点
func (s *Service) RollbackToSavepoint(ctx context.Context, id, savepointID string) error {
	return s.txm.RollbackToSavepoint(ctx, id, savepointID)
}

// ReleaseSavepoint 释放保存点
func (s *Service) ReleaseSavepoint(ctx context.Context, id, savepointID string) error {
	return s.txm.ReleaseSavepoint(ctx, id, savepointID)
}

// Transaction 查询事务
func (s *Service) Transaction(id string) (transaction.Info, bool) {
	return s.txm.Get(id)
}

// Transactions 未结束的事务
func (s *Service) Transactions() []transaction.Info {
	return s.txm.Active()
}

func (s *Service) executeInTransaction(ctx context.Context, req *Request, entry *AuditEntry) (*Response, error) {
	id := req.TransactionID
	if req.Operation.Write() {
		s.trackWrite(id, req.Entity)
	}

	v, err := s.txm.ExecuteInTransaction(ctx, id, func(ctx context.Context, exec adapter.Executor) (any, error) {
		return run(ctx, exec, req)
	})
	if err != nil {
		// 事务不存在或早已结束时不会再有结束回调
		if info, ok := s.txm.Get(id); !ok || info.State.Terminal() {
			s.untrack(id)
		}
		return nil, err
	}

	res := v.(*result)
	info, _ := s.txm.Get(id)
	entry.Connection = info.Connection

	resp := &Response{Metadata: Metadata{Connection: info.Connection, TransactionID: id}}
	fill(resp, req.Operation, res)
	entry.Rows = res.rows()
	return resp, nil
}

func (s *Service) executeInNewTransaction(ctx context.Context, req *Request, entry *AuditEntry) (*Response, error) {
	var opts transaction.Options
	if req.TransactionOptions != nil {
		opts = *req.TransactionOptions
	}
	route, err := s.router.Route(req.Entity)
	if err != nil {
		return nil, err
	}
	info, err := s.txm.BeginTransaction(ctx, route.ConnectionID, route.Adapter, opts)
	if err != nil {
		return nil, err
	}
	entry.TransactionID = info.ID

	inTx := *req
	inTx.TransactionID = info.ID
	inTx.TransactionOptions = nil
	inTx.AutoCommit = false
	resp, err := s.executeInTransaction(ctx, &inTx, entry)
	if err != nil {
		return nil, err
	}
	if req.AutoCommit {
		if _, err := s.txm.CommitTransaction(ctx, info.ID); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (s *Service) trackWrite(id, entity string) {
	if entity == "" {
		return
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	set, ok := s.txEntities[id]
	if !ok {
		set = make(map[string]struct{})
		s.txEntities[id] = set
	}
	set[entity] = struct{}{}
}

func (s *Service) untrack(id string) map[string]struct{} {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	set := s.txEntities[id]
	delete(s.txEntities, id)
	return set
}

// onTransactionFinished 只有提交的写才失效缓存
func (s *Service) onTransactionFinished(info transaction.Info) {
	entities := s.untrack(info.ID)
	if info.State != transaction.StateCommitted {
		return
	}
	ctx := logger.WithTxID(context.Background(), info.ID)
	for entity := range entities {
		s.invalidate(ctx, entity)
	}
}
