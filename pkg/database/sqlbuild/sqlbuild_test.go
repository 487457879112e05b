package sqlbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

func TestSelect(t *testing.T) {
	st, err := Postgres.Select("public.users", adapter.Conditions{"status": "active", "age": 30}, adapter.FindOptions{
		Limit:   10,
		Offset:  20,
		OrderBy: []adapter.OrderBy{{Field: "created_at", Direction: "desc"}, {Field: "id"}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM "public"."users" WHERE ("age" = $1 AND "status" = $2) ORDER BY "created_at" DESC, "id" ASC LIMIT 10 OFFSET 20`,
		st.SQL)
	assert.Equal(t, []any{30, "active"}, st.Args)
}

func TestSelectMySQL(t *testing.T) {
	st, err := MySQL.Select("users", adapter.Conditions{"id": 7}, adapter.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `users` WHERE (`id` = ?)", st.SQL)
	assert.Equal(t, []any{7}, st.Args)
}

func TestSelectRejectsInjection(t *testing.T) {
	_, err := Postgres.Select("users", adapter.Conditions{"id = 1 OR 1": 1}, adapter.FindOptions{})
	assert.True(t, dberrors.IsCode(err, dberrors.CodeValidation))

	_, err = Postgres.Select("users", nil, adapter.FindOptions{OrderBy: []adapter.OrderBy{{Field: "id; DROP"}}})
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	st, err := Postgres.Count("users", nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "users"`, st.SQL)
}

func TestInsert(t *testing.T) {
	st, err := Postgres.Insert("users", []adapter.Record{
		{"name": "a", "age": 1},
		{"name": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("age","name") VALUES ($1,$2),(DEFAULT,$3) RETURNING *`, st.SQL)
	assert.Equal(t, []any{1, "a", "b"}, st.Args)

	st, err = MySQL.Insert("users", []adapter.Record{{"name": "a"}})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `users` (`name`) VALUES (?)", st.SQL)
}

func TestUpdate(t *testing.T) {
	st, err := Postgres.Update("users", adapter.Conditions{"id": 1}, adapter.Record{"name": "x", "age": 2})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "age" = $1, "name" = $2 WHERE ("id" = $3) RETURNING *`, st.SQL)
	assert.Equal(t, []any{2, "x", 1}, st.Args)
}

func TestDelete(t *testing.T) {
	st, err := MySQL.Delete("users", adapter.Conditions{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `users` WHERE (`id` = ?)", st.SQL)

	st, err = Postgres.SoftDelete("users", adapter.Conditions{"id": 1}, adapter.Record{"deleted_at": "now"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "deleted_at" = $1 WHERE ("id" = $2)`, st.SQL)
}
