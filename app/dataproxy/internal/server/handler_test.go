package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/xdooria-dal/pkg/dal"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/security"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
	"github.com/lk2023060901/xdooria-dal/pkg/web"
)

type fakeService struct {
	lastReq   *dal.Request
	lastBegin *dal.BeginRequest
	execErr   error
	health    dal.HealthReport
	txs       map[string]transaction.Info
}

func (f *fakeService) Execute(_ context.Context, req *dal.Request) (*dal.Response, error) {
	f.lastReq = req
	if f.execErr != nil {
		return nil, f.execErr
	}
	n := int64(1)
	return &dal.Response{
		Data:     []adapter.Record{{"id": 1.0}},
		Count:    &n,
		Metadata: dal.Metadata{Connection: "main"},
	}, nil
}

func (f *fakeService) BeginTransaction(_ context.Context, req *dal.BeginRequest) (transaction.Info, error) {
	f.lastBegin = req
	info := transaction.Info{ID: "tx-1", Connection: "main", State: transaction.StatePending}
	f.txs[info.ID] = info
	return info, nil
}

func (f *fakeService) CommitTransaction(_ context.Context, id string) (transaction.Info, error) {
	info, ok := f.txs[id]
	if !ok {
		return transaction.Info{}, dberrors.Transaction(transaction.ErrNotFound, "transaction %s not found", id)
	}
	info.State = transaction.StateCommitted
	f.txs[id] = info
	return info, nil
}

func (f *fakeService) RollbackTransaction(_ context.Context, id string) (transaction.Info, error) {
	info := f.txs[id]
	info.State = transaction.StateRolledBack
	return info, nil
}

func (f *fakeService) CreateSavepoint(_ context.Context, id, name string) (string, error) {
	return "sp_" + name + "_1", nil
}

func (f *fakeService) RollbackToSavepoint(context.Context, string, string) error { return nil }

func (f *fakeService) ReleaseSavepoint(_ context.Context, _, sp string) error {
	return dberrors.Transaction(transaction.ErrSavepointNotFound, "savepoint %s not found", sp)
}

func (f *fakeService) Transaction(id string) (transaction.Info, bool) {
	info, ok := f.txs[id]
	return info, ok
}

func (f *fakeService) Health() dal.HealthReport { return f.health }

func (f *fakeService) Stats() dal.Stats { return dal.Stats{} }

func setup(t *testing.T) (*fakeService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &fakeService{txs: make(map[string]transaction.Info), health: dal.HealthReport{Status: dal.HealthOK}}
	r := gin.New()
	NewHandler(svc, nil).Register(r)
	return svc, r
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) web.Response {
	t.Helper()
	var resp web.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestExecute(t *testing.T) {
	svc, r := setup(t)

	w := do(r, http.MethodPost, "/api/v1/operations",
		`{"operation":"FIND","entity":"users","conditions":{"status":"active"},"options":{"limit":10,"orderBy":[{"field":"id","direction":"DESC"}]}}`,
		ActorHeader, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, svc.lastReq)
	assert.Equal(t, dal.OpFind, svc.lastReq.Operation)
	assert.Equal(t, "alice", svc.lastReq.Actor)
	assert.Equal(t, "active", svc.lastReq.Conditions["status"])
	assert.Equal(t, 10, svc.lastReq.Options.Limit)
	assert.Equal(t, adapter.Desc, svc.lastReq.Options.OrderBy[0].Direction)

	resp := decode(t, w)
	assert.Equal(t, web.CodeOK, resp.Code)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 1, data["count"])
	assert.Equal(t, "main", data["metadata"].(map[string]any)["connection"])
}

func TestExecuteBodyActorWins(t *testing.T) {
	svc, r := setup(t)
	do(r, http.MethodPost, "/api/v1/operations", `{"operation":"COUNT","entity":"users","actor":"bob"}`, ActorHeader, "alice")
	assert.Equal(t, "bob", svc.lastReq.Actor)
}

func TestExecuteAuthenticatedActorWins(t *testing.T) {
	svc, _ := setup(t)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := security.WithIdentity(c.Request.Context(), &security.Identity{Actor: "carol"})
		c.Request = c.Request.WithContext(ctx)
	})
	NewHandler(svc, nil).Register(r)

	do(r, http.MethodPost, "/api/v1/operations", `{"operation":"COUNT","entity":"users","actor":"bob"}`, ActorHeader, "alice")
	require.NotNil(t, svc.lastReq)
	assert.Equal(t, "carol", svc.lastReq.Actor)
}

func TestExecuteErrors(t *testing.T) {
	svc, r := setup(t)

	w := do(r, http.MethodPost, "/api/v1/operations", `{"operation":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(dberrors.CodeValidation), decode(t, w).Code)

	svc.execErr = dberrors.PermissionDenied("bob", "DELETE", "users")
	w = do(r, http.MethodPost, "/api/v1/operations", `{"operation":"DELETE","entity":"users","conditions":{"id":1}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	resp := decode(t, w)
	assert.Equal(t, string(dberrors.CodePermissionDenied), resp.Code)
	assert.Equal(t, "users", resp.Data.(map[string]any)["entity"])

	svc.execErr = dberrors.Query("PostgreSQL", "find", assert.AnError)
	w = do(r, http.MethodPost, "/api/v1/operations", `{"operation":"FIND","entity":"users"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w).Message, "PostgreSQL find error: ")
}

func TestTransactionLifecycle(t *testing.T) {
	svc, r := setup(t)

	w := do(r, http.MethodPost, "/api/v1/transactions",
		`{"entity":"orders","options":{"isolationLevel":"SERIALIZABLE","readOnly":true}}`, ActorHeader, "alice")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, adapter.Serializable, svc.lastBegin.Options.IsolationLevel)
	assert.True(t, svc.lastBegin.Options.ReadOnly)
	assert.Equal(t, "alice", svc.lastBegin.Actor)
	assert.Equal(t, "tx-1", decode(t, w).Data.(map[string]any)["id"])

	w = do(r, http.MethodGet, "/api/v1/transactions/tx-1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/v1/transactions/tx-1/savepoints", `{"name":"before_items"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "sp_before_items_1", decode(t, w).Data.(map[string]any)["id"])

	w = do(r, http.MethodPost, "/api/v1/transactions/tx-1/savepoints", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/transactions/tx-1/savepoints/sp_before_items_1/rollback", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/api/v1/transactions/tx-1/savepoints/unknown", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/v1/transactions/tx-1/commit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(transaction.StateCommitted), decode(t, w).Data.(map[string]any)["state"])

	w = do(r, http.MethodPost, "/api/v1/transactions/missing/commit", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/transactions/missing", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealth(t *testing.T) {
	svc, r := setup(t)

	w := do(r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	svc.health.Status = dal.HealthDegraded
	w = do(r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	svc.health.Status = dal.HealthDown
	w = do(r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(dberrors.CodeUnavailable), decode(t, w).Code)

	w = do(r, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
