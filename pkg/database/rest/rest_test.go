package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
)

// captured 服务端收到的请求
type captured struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []captured
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, captured{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h(w, r)
}

func (f *fakeBackend) last(t *testing.T) captured {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeBackend) respond(status int, body string, headers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i+1 < len(headers); i += 2 {
			w.Header().Set(headers[i], headers[i+1])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	a, err := New(adapter.ConnectionConfig{
		ID:       "rest-test",
		Provider: adapter.ProviderREST,
		BaseURL:  srv.URL,
		APIKey:   "secret-key",
		Timeout:  2 * time.Second,
		Pool:     pool.Config{MinSize: pool.Int(1), MaxSize: 2, AcquireTimeout: time.Second},
	}, adapter.Options{})
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, backend
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		cfg     adapter.ConnectionConfig
		want    string
		wantErr bool
	}{
		{name: "default prefix", cfg: adapter.ConnectionConfig{BaseURL: "https://db.example.com"}, want: "https://db.example.com/rest/v1"},
		{name: "trailing slash", cfg: adapter.ConnectionConfig{BaseURL: "https://db.example.com/"}, want: "https://db.example.com/rest/v1"},
		{name: "explicit path", cfg: adapter.ConnectionConfig{BaseURL: "http://localhost:3000/api/"}, want: "http://localhost:3000/api"},
		{name: "uri fallback", cfg: adapter.ConnectionConfig{URI: "http://localhost:3000"}, want: "http://localhost:3000/rest/v1"},
		{name: "empty", cfg: adapter.ConnectionConfig{}, wantErr: true},
		{name: "bad scheme", cfg: adapter.ConnectionConfig{BaseURL: "ftp://db.example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := parseEndpoint(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep.base.String())
			assert.Equal(t, defaultTimeout, ep.timeout)
		})
	}
}

func TestFilterValue(t *testing.T) {
	assert.Equal(t, "eq.active", filterValue("active"))
	assert.Equal(t, "eq.42", filterValue(42))
	assert.Equal(t, "eq.true", filterValue(true))
	assert.Equal(t, "is.null", filterValue(nil))
	assert.Equal(t, "in.(1,2,3)", filterValue([]int{1, 2, 3}))
	assert.Equal(t, `in.(a,"b,c","say \"hi\"")`, filterValue([]string{"a", "b,c", `say "hi"`}))
	assert.Equal(t, "eq.2024-05-01T08:00:00Z",
		filterValue(time.Date(2024, 5, 1, 16, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))))
}

func TestParseContentRange(t *testing.T) {
	n, err := parseContentRange("0-24/3573")
	require.NoError(t, err)
	assert.Equal(t, int64(3573), n)

	n, err = parseContentRange("*/0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, bad := range []string{"", "0-24/*", "0-24/", "abc"} {
		_, err := parseContentRange(bad)
		assert.ErrorIs(t, err, ErrInvalidResponse, bad)
	}
}

func TestAdapter_Capabilities(t *testing.T) {
	a, _ := newTestAdapter(t)

	assert.Equal(t, "REST", a.Engine())
	assert.False(t, a.SupportsTransactions())
	assert.False(t, a.SupportsNestedTransactions())

	tx, err := a.BeginTx(context.Background(), adapter.TxOptions{})
	assert.Nil(t, tx)
	assert.Equal(t, dberrors.CodeUnsupported, dberrors.CodeOf(err))
}

func TestAdapter_Find(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, `[{"id":1,"status":"active"},{"id":2,"status":"active"}]`)

	rows, err := a.Find(context.Background(), "users", adapter.Conditions{"status": "active", "age": 30}, adapter.FindOptions{
		Limit:   10,
		Offset:  20,
		OrderBy: []adapter.OrderBy{{Field: "created_at", Direction: "desc"}, {Field: "id"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, float64(1), rows[0]["id"])

	req := backend.last(t)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/users", req.Path)
	assert.Equal(t, "*", req.Query.Get("select"))
	assert.Equal(t, "eq.active", req.Query.Get("status"))
	assert.Equal(t, "eq.30", req.Query.Get("age"))
	assert.Equal(t, "created_at.desc,id.asc", req.Query.Get("order"))
	assert.Equal(t, "10", req.Query.Get("limit"))
	assert.Equal(t, "20", req.Query.Get("offset"))
	assert.Equal(t, "secret-key", req.Header.Get("apikey"))
	assert.Equal(t, "Bearer secret-key", req.Header.Get("Authorization"))
}

func TestAdapter_FindSchemaProfile(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, `[]`)

	row, err := a.FindOne(context.Background(), "billing.invoices", adapter.Conditions{"id": 7})
	require.NoError(t, err)
	assert.Nil(t, row)

	req := backend.last(t)
	assert.Equal(t, "/rest/v1/invoices", req.Path)
	assert.Equal(t, "billing", req.Header.Get("Accept-Profile"))
	assert.Equal(t, "1", req.Query.Get("limit"))
}

func TestAdapter_FindRejectsBadIdentifiers(t *testing.T) {
	a, backend := newTestAdapter(t)

	_, err := a.Find(context.Background(), "users; drop", nil, adapter.FindOptions{})
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	_, err = a.Find(context.Background(), "users", adapter.Conditions{"a b": 1}, adapter.FindOptions{})
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	_, err = a.Find(context.Background(), "users", nil, adapter.FindOptions{OrderBy: []adapter.OrderBy{{Field: "x.y.z"}}})
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	assert.Empty(t, backend.requests)
}

func TestAdapter_Insert(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusCreated, `[{"id":9,"name":"alice"}]`)

	row, err := a.Insert(context.Background(), "users", adapter.Record{"name": "alice"})
	require.NoError(t, err)
	assert.Equal(t, adapter.Record{"id": float64(9), "name": "alice"}, row)

	req := backend.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "return=representation", req.Header.Get("Prefer"))
	assert.JSONEq(t, `{"name":"alice"}`, req.Body)

	_, err = a.Insert(context.Background(), "users", adapter.Record{})
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))
}

func TestAdapter_InsertMany(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusCreated, `[{"id":1,"name":"a","age":null},{"id":2,"name":"b","age":20}]`)

	rows, err := a.InsertMany(context.Background(), "users", []adapter.Record{
		{"name": "a"},
		{"name": "b", "age": 20},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	req := backend.last(t)
	assert.Equal(t, "age,name", req.Query.Get("columns"))
	assert.Equal(t, "return=representation,missing=default", req.Header.Get("Prefer"))
	assert.JSONEq(t, `[{"name":"a"},{"name":"b","age":20}]`, req.Body)

	rows, err = a.InsertMany(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAdapter_Update(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, `[{"id":1,"status":"banned"}]`)

	row, err := a.Update(context.Background(), "users", adapter.Conditions{"id": 1}, adapter.Record{"status": "banned"})
	require.NoError(t, err)
	assert.Equal(t, "banned", row["status"])

	req := backend.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "eq.1", req.Query.Get("id"))
	assert.JSONEq(t, `{"status":"banned"}`, req.Body)

	backend.respond(http.StatusOK, `[]`)
	_, err = a.Update(context.Background(), "users", adapter.Conditions{"id": 404}, adapter.Record{"status": "x"})
	assert.Equal(t, dberrors.CodeNotFound, dberrors.CodeOf(err))
}

func TestAdapter_UpdateRequiresConditions(t *testing.T) {
	a, backend := newTestAdapter(t)

	_, err := a.Update(context.Background(), "users", adapter.Conditions{}, adapter.Record{"x": 1})
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	_, err = a.Delete(context.Background(), "users", nil, false)
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	assert.Empty(t, backend.requests)
}

func TestAdapter_Delete(t *testing.T) {
	a, backend := newTestAdapter(t)

	backend.respond(http.StatusOK, `[{"id":1}]`)
	ok, err := a.Delete(context.Background(), "users", adapter.Conditions{"id": 1}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, http.MethodDelete, backend.last(t).Method)

	backend.respond(http.StatusOK, `[]`)
	ok, err = a.Delete(context.Background(), "users", adapter.Conditions{"id": 2}, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_SoftDelete(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, `[{"id":1,"deleted_at":"2024-05-01T00:00:00Z"}]`)

	ok, err := a.Delete(context.Background(), "users", adapter.Conditions{"id": 1}, true)
	require.NoError(t, err)
	assert.True(t, ok)

	req := backend.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.JSONEq(t, `{"deleted_at":"2024-05-01T00:00:00Z"}`, req.Body)
}

func TestAdapter_Count(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, ``, "Content-Range", "0-0/42")

	n, err := a.Count(context.Background(), "users", adapter.Conditions{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	req := backend.last(t)
	assert.Equal(t, http.MethodHead, req.Method)
	assert.Equal(t, "count=exact", req.Header.Get("Prefer"))
	assert.Equal(t, "eq.active", req.Query.Get("status"))
}

func TestAdapter_ExecuteRaw(t *testing.T) {
	a, backend := newTestAdapter(t)

	backend.respond(http.StatusOK, `[{"day":"mon","total":3}]`)
	rows, err := a.ExecuteRaw(context.Background(), "daily_totals", map[string]any{"since": "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, []adapter.Record{{"day": "mon", "total": float64(3)}}, rows)

	req := backend.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/rest/v1/rpc/daily_totals", req.Path)
	assert.JSONEq(t, `{"since":"2024-01-01"}`, req.Body)

	backend.respond(http.StatusOK, `17`)
	rows, err = a.ExecuteRaw(context.Background(), "user_count")
	require.NoError(t, err)
	assert.Equal(t, []adapter.Record{{"result": float64(17)}}, rows)
	assert.JSONEq(t, `{}`, backend.last(t).Body)
}

func TestAdapter_ExecuteRawValidation(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.ExecuteRaw(context.Background(), "select * from users")
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	_, err = a.ExecuteRaw(context.Background(), "fn", 1)
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))

	_, err = a.ExecuteRaw(context.Background(), "fn", map[string]any{}, map[string]any{})
	assert.Equal(t, dberrors.CodeValidation, dberrors.CodeOf(err))
}

func TestAdapter_BackendErrorWrapped(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusBadRequest, `{"code":"42703","message":"column users.nope does not exist"}`)

	_, err := a.Find(context.Background(), "users", adapter.Conditions{"nope": 1}, adapter.FindOptions{})
	require.Error(t, err)
	assert.Equal(t, dberrors.CodeQuery, dberrors.CodeOf(err))
	assert.Contains(t, err.Error(), "REST find error: column users.nope does not exist")

	stats := a.Stats()
	assert.Equal(t, int64(1), stats.FailedQueries)
}

func TestAdapter_StartChecksBackend(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, `{}`)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, pool.StatusConnected, a.Health().Status)
	assert.Equal(t, "/rest/v1", backend.last(t).Path)
}

func TestConn_QueryThroughPool(t *testing.T) {
	a, backend := newTestAdapter(t)
	backend.respond(http.StatusOK, `[{"n":1}]`)

	rows, err := a.pool.Query(context.Background(), "ping_fn")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"n": float64(1)}}, rows)
}
