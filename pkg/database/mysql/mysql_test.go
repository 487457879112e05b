package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

var fixedNow = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	a, err := NewWithDB(adapter.ConnectionConfig{
		ID:   "mysql-test",
		Pool: pool.Config{MinSize: pool.Int(1), MaxSize: 1, AcquireTimeout: 200 * time.Millisecond},
	}, db, adapter.Options{})
	require.NoError(t, err)
	a.executor.now = func() time.Time { return fixedNow }

	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(adapter.ConnectionConfig{Host: "db", User: "app", Password: "secret", Database: "main"})
	require.NoError(t, err)
	assert.Contains(t, dsn, "app:secret@tcp(db:3306)/main")
	assert.Contains(t, dsn, "parseTime=true")

	_, err = buildDSN(adapter.ConnectionConfig{Host: "db"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = buildDSN(adapter.ConnectionConfig{URI: "not a dsn"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFind(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(q("SELECT * FROM `users` WHERE (`status` = ?) ORDER BY `name` ASC LIMIT 5 OFFSET 10")).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("alice")))

	rows, err := a.Find(context.Background(), "users", adapter.Conditions{"status": "active"}, adapter.FindOptions{
		Limit:   5,
		Offset:  10,
		OrderBy: []adapter.OrderBy{{Field: "name"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"], "text columns are returned as strings")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReadsBackByLastInsertID(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectExec(q("INSERT INTO `users` (`name`) VALUES (?)")).
		WithArgs("carol").
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectQuery(q("SELECT * FROM `users` WHERE (`id` IN (?)) ORDER BY `id` ASC")).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow(int64(12), "carol", fixedNow))

	row, err := a.Insert(context.Background(), "users", adapter.Record{"name": "carol"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), row["id"])
	assert.Equal(t, fixedNow, row["created_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertManyWithExplicitKeys(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectExec(q("INSERT INTO `tags` (`id`,`name`) VALUES (?,?),(?,?)")).
		WithArgs("a", "alpha", "b", "beta").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(q("SELECT * FROM `tags` WHERE (`id` IN (?,?)) ORDER BY `id` ASC")).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("a", "alpha").
			AddRow("b", "beta"))

	rows, err := a.InsertMany(context.Background(), "tags", []adapter.Record{
		{"id": "a", "name": "alpha"},
		{"id": "b", "name": "beta"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertedKeys(t *testing.T) {
	last := func(id int64) func() (int64, error) {
		return func() (int64, error) { return id, nil }
	}

	keys, ok := insertedKeys([]adapter.Record{{"name": "a"}, {"name": "b"}}, last(40))
	assert.True(t, ok)
	assert.Equal(t, []any{int64(40), int64(41)}, keys)

	_, ok = insertedKeys([]adapter.Record{{"id": 1}, {"name": "b"}}, last(40))
	assert.False(t, ok, "mixed explicit and generated keys cannot be resolved")

	_, ok = insertedKeys([]adapter.Record{{"name": "a"}}, last(0))
	assert.False(t, ok)

	_, ok = insertedKeys([]adapter.Record{{"name": "a"}}, func() (int64, error) { return 0, errors.New("unsupported") })
	assert.False(t, ok)
}

func TestUpdateReadsBackMergedConditions(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectExec(q("UPDATE `users` SET `status` = ? WHERE (`id` = ?)")).
		WithArgs("done", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT * FROM `users` WHERE (`id` = ? AND `status` = ?) LIMIT 1")).
		WithArgs(3, "done").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(3), "done"))

	row, err := a.Update(context.Background(), "users", adapter.Conditions{"id": 3}, adapter.Record{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "done", row["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNoMatchIsNotFound(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectExec(q("UPDATE `users` SET `status` = ? WHERE (`id` = ?)")).
		WithArgs("done", 404).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT * FROM `users`")).
		WithArgs(404, "done").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))

	_, err := a.Update(context.Background(), "users", adapter.Conditions{"id": 404}, adapter.Record{"status": "done"})
	assert.Equal(t, dberrors.CodeNotFound, dberrors.CodeOf(err))
}

func TestSoftDelete(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectExec(q("UPDATE `users` SET `deleted_at` = ? WHERE (`id` = ?)")).
		WithArgs(fixedNow, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := a.Delete(context.Background(), "users", adapter.Conditions{"id": 5}, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAndError(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT COUNT(*) FROM `users` WHERE (`active` = ?)")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(4)))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM `missing`")).
		WillReturnError(errors.New("Error 1146 (42S02): Table 'main.missing' doesn't exist"))

	n, err := a.Count(ctx, "users", adapter.Conditions{"active": true})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = a.Count(ctx, "missing", nil)
	assert.Equal(t, "MySQL count error: Error 1146 (42S02): Table 'main.missing' doesn't exist", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO `orders` (`id`,`total`) VALUES (?,?)")).
		WithArgs(1, 10).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(q("SELECT * FROM `orders` WHERE (`id` IN (?))")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total"}).AddRow(int64(1), int64(10)))
	mock.ExpectExec(q("SAVEPOINT `before_items`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("ROLLBACK TO SAVEPOINT `before_items`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := a.BeginTx(ctx, adapter.TxOptions{IsolationLevel: adapter.RepeatableRead})
	require.NoError(t, err)

	_, err = tx.Insert(ctx, "orders", adapter.Record{"id": 1, "total": 10})
	require.NoError(t, err)
	require.NoError(t, tx.Savepoint(ctx, "before_items"))
	require.NoError(t, tx.RollbackToSavepoint(ctx, "before_items"))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 0, a.Stats().ActiveConnections)
	assert.ErrorContains(t, tx.Commit(ctx), "already finished")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollback(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := a.BeginTx(ctx, adapter.TxOptions{ReadOnly: true, StatementTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, err = tx.Find(ctx, "orders", nil, adapter.FindOptions{})
	assert.ErrorContains(t, err, "already finished")
	assert.NoError(t, mock.ExpectationsWereMet())
}
