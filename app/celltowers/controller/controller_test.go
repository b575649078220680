package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
	"github.com/canopy-network/celltowers/pkg/pipeline/pipelinetest"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

type fakeTrigger struct {
	calls []types.RunInput
	err   error
}

func (f *fakeTrigger) Trigger(_ context.Context, in types.RunInput) (string, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return "", f.err
	}
	return "cell_towers:" + in.Period, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *pipelinetest.Store, *fakeTrigger) {
	t.Helper()
	hash, err := HashOrRead("secret")
	require.NoError(t, err)

	store := pipelinetest.NewStore()
	trigger := &fakeTrigger{}
	c := NewController(zaptest.NewLogger(t), store, trigger, Auth{
		AdminToken:   "devtoken",
		User:         "admin",
		PasswordHash: hash,
		JWTSecret:    []byte("test-secret"),
	})
	srv := httptest.NewServer(c.NewRouter())
	t.Cleanup(srv.Close)
	return srv, store, trigger
}

func do(t *testing.T, method, url string, body string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if mutate != nil {
		mutate(req)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(dst))
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	res := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	srv, store, _ := newTestServer(t)

	res := do(t, http.MethodGet, srv.URL+"/readyz", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	store.Err["ping"] = errors.New("connection refused")
	res = do(t, http.MethodGet, srv.URL+"/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	var report map[string]string
	decode(t, res, &report)
	assert.Equal(t, "connection refused", report["clickhouse"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	res := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestGetRun(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.Runs["2024-01"] = &celltowers.Run{Period: "2024-01", State: "STAGED", RowsLoaded: 997, RowsRejected: 3}

	res := do(t, http.MethodGet, srv.URL+"/runs/2024-01", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var run celltowers.Run
	decode(t, res, &run)
	assert.Equal(t, "STAGED", run.State)
	assert.Equal(t, uint64(997), run.RowsLoaded)

	res = do(t, http.MethodGet, srv.URL+"/runs/2024-02", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = do(t, http.MethodGet, srv.URL+"/runs/january", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGetRunStoreFailure(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.Err["get_run"] = errors.New("boom")

	res := do(t, http.MethodGet, srv.URL+"/runs/2024-01", "", nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestMartAreas(t *testing.T) {
	srv, store, _ := newTestServer(t)

	res := do(t, http.MethodGet, srv.URL+"/mart/areas", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var empty struct {
		Areas []int32 `json:"areas"`
		Count int     `json:"count"`
	}
	decode(t, res, &empty)
	assert.NotNil(t, empty.Areas)
	assert.Zero(t, empty.Count)

	store.Areas = []int32{1, 7}
	res = do(t, http.MethodGet, srv.URL+"/mart/areas", "", nil)
	var got struct {
		Areas []int32 `json:"areas"`
		Count int     `json:"count"`
	}
	decode(t, res, &got)
	assert.Equal(t, []int32{1, 7}, got.Areas)
	assert.Equal(t, 2, got.Count)
}

func TestTriggerRunRequiresAdmin(t *testing.T) {
	srv, _, trigger := newTestServer(t)

	res := do(t, http.MethodPost, srv.URL+"/runs/2024-01", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = do(t, http.MethodPost, srv.URL+"/runs/2024-01", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Empty(t, trigger.calls)
}

func TestTriggerRunWithToken(t *testing.T) {
	srv, _, trigger := newTestServer(t)

	res := do(t, http.MethodPost, srv.URL+"/runs/2024-01?force=true", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer devtoken")
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Len(t, trigger.calls, 1)
	assert.Equal(t, types.RunInput{Period: "2024-01", Force: true}, trigger.calls[0])

	var body map[string]any
	decode(t, res, &body)
	assert.Equal(t, "cell_towers:2024-01", body["id"])
}

func TestTriggerRunConflict(t *testing.T) {
	srv, _, trigger := newTestServer(t)
	trigger.err = fmt.Errorf("start: %w", redis.ErrLocked)

	res := do(t, http.MethodPost, srv.URL+"/runs/2024-01", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer devtoken")
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestLoginSessionTriggersRun(t *testing.T) {
	srv, _, trigger := newTestServer(t)

	res := do(t, http.MethodPost, srv.URL+"/api/auth/login", `{"username":"admin","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = do(t, http.MethodPost, srv.URL+"/api/auth/login", `{"username":"admin","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var session *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)

	res = do(t, http.MethodPost, srv.URL+"/runs/2024-03", "", func(r *http.Request) {
		r.AddCookie(session)
	})
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Len(t, trigger.calls, 1)
	assert.False(t, trigger.calls[0].Force)
}

func TestHashOrReadKeepsHashes(t *testing.T) {
	hash, err := HashOrRead("secret")
	require.NoError(t, err)
	again, err := HashOrRead(string(hash))
	require.NoError(t, err)
	assert.Equal(t, hash, again)
}
