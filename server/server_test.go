package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/schedule"
	etltest "github.com/linuxautomates/gitsei-sub052/internal/testing"
)

type testEnv struct {
	store  *jobs.SQLStore
	coord  *jobs.Coordinator
	cache  *schedule.DueJobsCache
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := jobs.NewSQLStore(etltest.CreateTestDB(t))
	coord := jobs.NewCoordinator(store, log)
	cache := schedule.NewDueJobsCache(store, schedule.DefaultCacheConfig(), log)
	srv := NewServer(coord, cache, Config{}, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: store, coord: coord, cache: cache, server: srv, http: ts}
}

func (e *testEnv) definition(t *testing.T, id string, active bool) *jobs.Definition {
	t.Helper()
	def := &jobs.Definition{
		ID:              id,
		TenantID:        "acme",
		IntegrationID:   "int-" + id,
		IntegrationType: "jira",
		ProcessorName:   "jira.issues",
		IsActive:        true,
	}
	require.NoError(t, e.store.CreateDefinition(context.Background(), def))
	if !active {
		require.NoError(t, e.store.SetDefinitionActive(context.Background(), id, false))
	}
	return def
}

func (e *testEnv) instance(t *testing.T, def *jobs.Definition, priority int, start time.Time) *jobs.Instance {
	t.Helper()
	inst := jobs.NewInstance(def, start, false)
	inst.Priority = priority
	require.NoError(t, e.store.CreateInstance(context.Background(), inst))
	return inst
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf strings.Builder
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestJobsToRun_Ordering(t *testing.T) {
	env := newTestEnv(t)
	def := env.definition(t, "d1", true)
	t0 := time.Now().Add(-3 * time.Hour)

	low := env.instance(t, def, 2, t0)
	earlyOne := env.instance(t, def, 1, t0.Add(time.Hour))
	lateOne := env.instance(t, def, 1, t0.Add(2*time.Hour))
	env.instance(t, def, 0, time.Now().Add(time.Hour)) // not due yet

	resp, body := env.do(t, http.MethodGet, "/v1/jobs_to_run")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got JobsToRunResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 3, got.Count)
	assert.Equal(t, earlyOne.ID, got.Jobs[0].InstanceID)
	assert.Equal(t, lateOne.ID, got.Jobs[1].InstanceID)
	assert.Equal(t, low.ID, got.Jobs[2].InstanceID)
	assert.Empty(t, got.Jobs[0].Payload, "payloads are stripped from the due list")
}

func TestJobsToRun_DisableCache(t *testing.T) {
	env := newTestEnv(t)
	def := env.definition(t, "d1", true)

	_, body := env.do(t, http.MethodGet, "/v1/jobs_to_run")
	assert.JSONEq(t, `{"jobs":[],"count":0}`, string(body))

	env.instance(t, def, 1, time.Now().Add(-time.Minute))

	_, body = env.do(t, http.MethodGet, "/v1/jobs_to_run")
	assert.Contains(t, string(body), `"count":0`, "cached list served within TTL")

	_, body = env.do(t, http.MethodGet, "/v1/jobs_to_run?disableCache=true")
	assert.Contains(t, string(body), `"count":1`)

	resp, _ := env.do(t, http.MethodGet, "/v1/jobs_to_run?disableCache=maybe")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClaimJob(t *testing.T) {
	env := newTestEnv(t)
	inst := env.instance(t, env.definition(t, "d1", true), 1, time.Now())

	resp, body := env.do(t, http.MethodPatch, "/v1/claim_job?job_instance_id="+inst.ID+"&worker_id=w1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var claimed ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claimed))
	assert.Equal(t, inst.ID, claimed.Job.InstanceID)
	assert.Equal(t, jobs.StatusAccepted, claimed.Job.Status)
	assert.Equal(t, "w1", claimed.Job.WorkerID)

	resp, body = env.do(t, http.MethodPatch, "/v1/claim_job?job_instance_id="+inst.ID+"&worker_id=w2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeAlreadyRunning, decodeError(t, body).Code)
}

func TestClaimJob_Errors(t *testing.T) {
	env := newTestEnv(t)
	inactive := env.instance(t, env.definition(t, "off", false), 1, time.Now())

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"wrong method", http.MethodGet, "/v1/claim_job?job_instance_id=x&worker_id=w", http.StatusMethodNotAllowed, CodeInvalidRequest},
		{"missing worker", http.MethodPatch, "/v1/claim_job?job_instance_id=x", http.StatusBadRequest, CodeInvalidRequest},
		{"unknown instance", http.MethodPatch, "/v1/claim_job?job_instance_id=nope&worker_id=w", http.StatusNotFound, CodeNotFound},
		{"inactive definition", http.MethodPatch, "/v1/claim_job?job_instance_id=" + inactive.ID + "&worker_id=w", http.StatusConflict, CodeDefinitionInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, body).Code)
		})
	}
}

func TestClaimJob_ConcurrentRequests(t *testing.T) {
	env := newTestEnv(t)
	inst := env.instance(t, env.definition(t, "d1", true), 1, time.Now())

	const racers = 8
	var wg sync.WaitGroup
	statuses := make(chan int, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPatch,
				env.http.URL+"/v1/claim_job?job_instance_id="+inst.ID+"&worker_id=w"+string(rune('a'+i)), nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}(i)
	}
	wg.Wait()
	close(statuses)

	wins := 0
	for code := range statuses {
		if code == http.StatusOK {
			wins++
		} else {
			assert.Equal(t, http.StatusConflict, code)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestUnclaimJob(t *testing.T) {
	env := newTestEnv(t)
	inst := env.instance(t, env.definition(t, "d1", true), 1, time.Now())
	_, err := env.coord.Claim(context.Background(), inst.ID, "w1")
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPatch, "/v1/unclaim_job?job_instance_id="+inst.ID+"&worker_id=intruder")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeNotOwner, decodeError(t, body).Code)

	got, err := env.store.GetInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusAccepted, got.Status, "failed unclaim leaves state untouched")
	assert.Equal(t, "w1", got.WorkerID)

	resp, _ = env.do(t, http.MethodPatch, "/v1/unclaim_job?job_instance_id="+inst.ID+"&worker_id=w1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err = env.store.GetInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusScheduled, got.Status)
	assert.Empty(t, got.WorkerID)

	resp, _ = env.do(t, http.MethodPatch, "/v1/unclaim_job?job_instance_id=missing&worker_id=w1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClaimRejectedWhileDraining(t *testing.T) {
	env := newTestEnv(t)
	inst := env.instance(t, env.definition(t, "d1", true), 1, time.Now())
	env.server.setState(ServerStateDraining)

	resp, _ := env.do(t, http.MethodPatch, "/v1/claim_job?job_instance_id="+inst.ID+"&worker_id=w1")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "running", health.ServerState)
	assert.Equal(t, schedule.DefaultCacheTTL, health.Cache.TTL)
	assert.Nil(t, health.Ticker)
}

func TestJobEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	env.server.startBackgroundServices()
	t.Cleanup(func() { env.server.cancel() })

	inst := env.instance(t, env.definition(t, "d1", true), 1, time.Now())

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/jobs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.server.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = env.coord.Claim(context.Background(), inst.ID, "w1")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev jobs.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, jobs.EventClaimed, ev.Type)
	assert.Equal(t, inst.ID, ev.InstanceID)
	assert.Equal(t, "w1", ev.WorkerID)
}

func TestJobEventsWebSocket_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/jobs"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
