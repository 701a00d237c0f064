package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/deployctl/internal/admission"
	"github.com/toolforge/deployctl/internal/engine"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
	"github.com/toolforge/deployctl/internal/storage"
	"github.com/toolforge/deployctl/internal/storage/memory"
)

type noopAdapter struct{}

func (noopAdapter) StartBuild(context.Context, string, string, model.SourceBuildInfo, bool) (model.BuildProgress, error) {
	return model.BuildProgress{State: model.BuildSuccessful}, nil
}
func (noopAdapter) GetBuildInfo(context.Context, string, string) (model.BuildProgress, error) {
	return model.BuildProgress{State: model.BuildSuccessful}, nil
}
func (noopAdapter) CancelBuild(context.Context, string, string) error { return nil }
func (noopAdapter) RunContinuousJob(context.Context, string, string, model.ContinuousRunSpec, string, bool) (string, error) {
	return "ok", nil
}
func (noopAdapter) RunScheduledJob(context.Context, string, string, model.ScheduledRunSpec, string) (string, error) {
	return "ok", nil
}
func (noopAdapter) DeleteJobIfExists(context.Context, string, string) (string, error) { return "", nil }
func (noopAdapter) ListJobs(context.Context, string) ([]runtime.JobRecord, error)      { return nil, nil }
func (noopAdapter) ListBuilds(context.Context, string) ([]runtime.BuildRecord, error)  { return nil, nil }
func (noopAdapter) ResolveRef(context.Context, string, string) (string, error)         { return "HEAD", nil }

func newTestRouter(t *testing.T) (http.Handler, storage.Store) {
	t.Helper()
	st := memory.New(storage.DefaultSettings(), nil, storage.NewMetrics(nil))
	adapter := noopAdapter{}
	eng := engine.New(st, adapter, engine.DefaultSettings(), engine.NewMetrics(nil), nil)
	pool := engine.NewPool(2)
	t.Cleanup(pool.Close)

	router := NewRouter(Deps{
		Store:         st,
		Adapter:       adapter,
		Engine:        eng,
		Pool:          pool,
		Quota:         admission.NewQuotaChecker(st, 1),
		TokenLifetime: 365 * 24 * time.Hour,
	})
	return router, st
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfig_RequiresAuthHeader(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/tool/mytool/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

const configYAML = `
config_version: v1beta1
components:
  web:
    component_type: continuous
    build:
      build_type: source
      repository: https://example.org/web.git
      ref: main
    run:
      command: ./app.sh
      ports: [8000]
`

func TestConfig_PutAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	putReq := httptest.NewRequest(http.MethodPost, "/v1/tool/mytool/config", strings.NewReader(configYAML))
	putReq.Header.Set("x-toolforge-tool", "mytool")
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)
	putEnv := decodeEnvelope(t, putRec)
	assert.Contains(t, putEnv.Messages.Warning, betaNotice)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/tool/mytool/config", nil)
	getReq.Header.Set("x-toolforge-tool", "mytool")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestDeployment_CreateAndAdmissionLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	putReq := httptest.NewRequest(http.MethodPost, "/v1/tool/mytool/config", strings.NewReader(configYAML))
	putReq.Header.Set("x-toolforge-tool", "mytool")
	router.ServeHTTP(httptest.NewRecorder(), putReq)

	createReq := httptest.NewRequest(http.MethodPost, "/v1/tool/mytool/deployment", nil)
	createReq.Header.Set("x-toolforge-tool", "mytool")
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusOK, createRec.Code)

	secondReq := httptest.NewRequest(http.MethodPost, "/v1/tool/mytool/deployment", nil)
	secondReq.Header.Set("x-toolforge-tool", "mytool")
	secondRec := httptest.NewRecorder()
	router.ServeHTTP(secondRec, secondReq)
	assert.Equal(t, http.StatusConflict, secondRec.Code)
}

func TestToken_CreateConflictAndRefresh(t *testing.T) {
	router, _ := newTestRouter(t)

	create := httptest.NewRequest(http.MethodPost, "/v1/tool/mytool/deployment/token", nil)
	create.Header.Set("x-toolforge-tool", "mytool")
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, create)
	require.Equal(t, http.StatusOK, createRec.Code)
	first := decodeEnvelope(t, createRec)

	conflict := httptest.NewRequest(http.MethodPost, "/v1/tool/mytool/deployment/token", nil)
	conflict.Header.Set("x-toolforge-tool", "mytool")
	conflictRec := httptest.NewRecorder()
	router.ServeHTTP(conflictRec, conflict)
	assert.Equal(t, http.StatusConflict, conflictRec.Code)

	refresh := httptest.NewRequest(http.MethodPut, "/v1/tool/mytool/deployment/token", nil)
	refresh.Header.Set("x-toolforge-tool", "mytool")
	refreshRec := httptest.NewRecorder()
	router.ServeHTTP(refreshRec, refresh)
	require.Equal(t, http.StatusOK, refreshRec.Code)
	refreshed := decodeEnvelope(t, refreshRec)

	firstData := first.Data.(map[string]any)
	refreshedData := refreshed.Data.(map[string]any)
	assert.NotEqual(t, firstData["token"], refreshedData["token"])
}

func TestDeployment_Cancel_ConflictFromTerminalState(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, st.CreateDeployment(ctx, "mytool", model.Deployment{
		DeployID:     "20260101-000000-abc1234567",
		CreationTime: "20260101-000000",
		Status:       model.StatusSuccessful,
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/tool/mytool/deployment/20260101-000000-abc1234567/cancel", nil)
	req.Header.Set("x-toolforge-tool", "mytool")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
