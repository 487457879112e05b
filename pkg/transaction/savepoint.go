package transaction

import (
	"context"
	"fmt"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
)

// CreateSavepoint 创建保存点，返回事务内唯一的保存点 id（sp_<name>_<n>）
func (m *Manager) CreateSavepoint(ctx context.Context, id, name string) (string, error) {
	if err := adapter.ValidateName("savepoint", name); err != nil {
		return "", err
	}
	t, err := m.lock(id)
	if err != nil {
		return "", err
	}
	defer t.mu.Unlock()

	if !t.adapter.SupportsNestedTransactions() {
		return "", dberrors.Unsupported(t.adapter.Engine(), adapter.OpSavepoint)
	}

	t.spSeq++
	spID := fmt.Sprintf("sp_%s_%d", name, t.spSeq)
	if err := t.tx.Savepoint(ctx, spID); err != nil {
		return "", err
	}
	t.savepoints = append(t.savepoints, savepoint{id: spID, name: name})

	m.logger.DebugContext(logger.WithTxID(ctx, id), "savepoint created", "savepoint", spID)
	return spID, nil
}

// RollbackToSavepoint 回滚到保存点，之后创建的保存点一并失效
func (m *Manager) RollbackToSavepoint(ctx context.Context, id, savepointID string) error {
	t, err := m.lock(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	idx, err := t.findSavepoint(savepointID)
	if err != nil {
		return err
	}
	if err := t.tx.RollbackToSavepoint(ctx, savepointID); err != nil {
		return err
	}
	t.savepoints = t.savepoints[:idx+1]
	return nil
}

// ReleaseSavepoint 释放保存点及其后创建的保存点
func (m *Manager) ReleaseSavepoint(ctx context.Context, id, savepointID string) error {
	t, err := m.lock(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	idx, err := t.findSavepoint(savepointID)
	if err != nil {
		return err
	}
	if err := t.tx.ReleaseSavepoint(ctx, savepointID); err != nil {
		return err
	}
	t.savepoints = t.savepoints[:idx]
	return nil
}

func (t *transaction) findSavepoint(spID string) (int, error) {
	for i, sp := range t.savepoints {
		if sp.id == spID {
			return i, nil
		}
	}
	return -1, dberrors.Transaction(ErrSavepointNotFound, "savepoint %s not found in transaction %s", spID, t.id).
		WithDetail("transactionId", t.id).
		WithDetail("savepoint", spID)
}
