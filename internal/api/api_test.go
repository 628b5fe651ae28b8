package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/detect"
	"github.com/suiyueqingqian/model-check-sub000/internal/modelsync"
	"github.com/suiyueqingqian/model-check-sub000/internal/progress"
	"github.com/suiyueqingqian/model-check-sub000/internal/queue"
	"github.com/suiyueqingqian/model-check-sub000/internal/scheduler"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
)

func newTestServer(t *testing.T, authToken string) (*Server, store.Repository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	coord := coordination.NewMemory()
	q := queue.New(coord)
	sync := modelsync.New(repo, nil)
	d := detect.New(repo, coord, q, sync)
	bus := progress.New(coord, q)
	hub := progress.NewHub(bus)
	sched := scheduler.New(context.Background(), repo, d, scheduler.Defaults{CronSchedule: "0 0 * * *", Timezone: "UTC"})
	return NewServer(d, bus, hub, sync, sched, authToken), repo
}

func TestHealthz_AlwaysOpenRegardlessOfAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerAuth_RejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/detect", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
	assert.Contains(t, body, "code")
}

func TestBearerAuth_AcceptsValidToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/detect", nil)
	req.Header.Set("Authorization", "Bearer secret")
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerAuth_DisabledWhenTokenEmpty(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/detect", nil)
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerDetect_FullDetectionWithNoSelectors(t *testing.T) {
	srv, repo := newTestServer(t, "")
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: "https://api.example.com", APIKey: "k1", Enabled: true})
	repo.PutModel(&store.Model{ID: "m1", ChannelID: "c1", Name: "gpt-4o"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString("{}"))
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["enqueued"])
}

func TestTriggerDetect_ModelSelectorTakesPriority(t *testing.T) {
	srv, repo := newTestServer(t, "")
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: "https://api.example.com", APIKey: "k1", Enabled: true})
	repo.PutModel(&store.Model{ID: "m1", ChannelID: "c1", Name: "gemini-1.5-pro"})
	repo.PutModel(&store.Model{ID: "m2", ChannelID: "c1", Name: "gpt-4o"})

	payload, _ := json.Marshal(map[string]any{"modelId": "m1", "channelId": "c1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(payload))
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// gemini -> CHAT + GEMINI, two jobs, proving the modelId selector (not
	// channelId's whole-channel fan-out, which would add gpt-4o's CHAT job
	// for three) drove the dispatch.
	assert.Equal(t, float64(2), body["enqueued"])
}

func TestTriggerDetect_InvalidJSONReturnsValidationError(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString("{not-json"))
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStopDetect_ReturnsDrainedCount(t *testing.T) {
	srv, repo := newTestServer(t, "")
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: "https://api.example.com", APIKey: "k1", Enabled: true})
	repo.PutModel(&store.Model{ID: "m1", ChannelID: "c1", Name: "gpt-4o"})

	postReq := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString("{}"))
	srv.Router().ServeHTTP(httptest.NewRecorder(), postReq)

	w := httptest.NewRecorder()
	delReq := httptest.NewRequest(http.MethodDelete, "/detect", nil)
	srv.Router().ServeHTTP(w, delReq)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["drained"])
}

func TestDetectStatus_ReturnsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/detect", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "isRunning")
}

func TestChannelSync_UserSelectedNames(t *testing.T) {
	discoverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(discoverSrv.Close)

	srv, repo := newTestServer(t, "")
	repo.PutChannel(&store.Channel{ID: "c1", BaseURL: discoverSrv.URL, APIKey: "k1", Enabled: true})

	payload, _ := json.Marshal(map[string]any{"modelNames": []string{"gpt-4o"}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/channel/c1/sync", bytes.NewReader(payload))
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["added"])
}

func TestSchedulerConfig_GetThenPutRoundTrips(t *testing.T) {
	srv, _ := newTestServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/scheduler/config", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg store.SchedulerConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	cfg.CronSchedule = "*/5 * * * *"

	payload, err := json.Marshal(cfg)
	require.NoError(t, err)
	w2 := httptest.NewRecorder()
	putReq := httptest.NewRequest(http.MethodPut, "/scheduler/config", bytes.NewReader(payload))
	srv.Router().ServeHTTP(w2, putReq)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestSchedulerStatus_ReturnsCurrentStatus(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/scheduler", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "NextRun")
}
