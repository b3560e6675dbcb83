package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/supportbot/internal/api/middleware"
	"github.com/eldtechnologies/supportbot/internal/bridge"
	"github.com/eldtechnologies/supportbot/internal/engine"
	"github.com/eldtechnologies/supportbot/internal/handlers"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/store"
	"github.com/eldtechnologies/supportbot/internal/tasks"
)

type noLookup struct{}

func (noLookup) Lookup(ctx context.Context, intent models.Intent, identifier string) (string, error) {
	return "Status is 'ok'", nil
}

type testServer struct {
	router http.Handler
	store  *store.MemoryStore
	queue  *queue.Queue
}

func newTestServer(t *testing.T, withRedis bool, limits ...middleware.RateLimit) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	hub := bridge.NewHub(zerolog.Nop())
	b := bridge.New(bridge.Deps{
		Engine:       engine.New(engine.Deps{Store: s, Gateway: noLookup{}, Logger: zerolog.Nop()}),
		Store:        s,
		Publisher:    bridge.NewLocalPublisher(hub),
		UploadFolder: t.TempDir(),
		Logger:       zerolog.Nop(),
	})

	deps := handlers.Deps{Store: s, Bridge: b, Hub: hub, Logger: zerolog.Nop()}
	var limiter *middleware.RateLimiter
	ts := &testServer{store: s}

	if withRedis {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		q := queue.New(rdb, "cloudwalk")
		sched := queue.NewScheduler(q, time.Second, zerolog.Nop())
		deps.Redis = rdb
		deps.Queue = q
		deps.Orchestrator = tasks.New(tasks.Deps{Store: s, Queue: q, Scheduler: sched, Logger: zerolog.Nop()})
		limiter = middleware.NewRateLimiter(rdb, zerolog.Nop(), middleware.RateLimiterConfig{Root: "cloudwalk", Limits: limits})
		ts.queue = q
	}

	ts.router = NewRouter(zerolog.Nop(), handlers.NewHandler(deps), limiter)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, true)

	rec, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "pass", checks["database"].(map[string]any)["status"])
	assert.Equal(t, "pass", checks["redis"].(map[string]any)["status"])

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealthWithoutRedis(t *testing.T) {
	ts := newTestServer(t, false)

	rec, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "skip", checks["redis"].(map[string]any)["status"])
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, false)
	rec, body := ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "supportbot", body["name"])
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t, false)
	ctx := context.Background()

	_, err := ts.store.CreateConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NoError(t, ts.store.AppendMessage(ctx, &models.Message{ConversationID: "conv-1", Body: "hi", Sender: models.SenderClient}))

	rec, body := ts.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	convs := body["conversations"].([]any)
	require.Len(t, convs, 1)
	conv := convs[0].(map[string]any)
	assert.Equal(t, "conv-1", conv["id"])
	msgs := conv["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].(map[string]any)["message"])
}

func TestTasksUnavailableWithoutRedis(t *testing.T) {
	ts := newTestServer(t, false)

	rec, body := ts.do(t, http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "task queue not configured", body["error"])

	rec, _ = ts.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLaunchProgressAndCancelTask(t *testing.T) {
	ts := newTestServer(t, true)

	rec, body := ts.do(t, http.MethodPost, "/api/tasks", handlers.LaunchRequest{
		Name:        tasks.TaskCountWords,
		Description: "Count words",
		Args:        []any{"https://example.com"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	rec, body = ts.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["tasks"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Count words", list[0].(map[string]any)["description"])
	assert.EqualValues(t, 1, list[0].(map[string]any)["position"])

	rec, body = ts.do(t, http.MethodGet, "/api/tasks/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["progress"])

	rec, body = ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["queue"].(map[string]any)["queued"])

	rec, body = ts.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cancelled"])

	rec, body = ts.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["cancelled"])

	rec, _ = ts.do(t, http.MethodGet, "/api/tasks/missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = ts.do(t, http.MethodDelete, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLaunchTaskValidation(t *testing.T) {
	ts := newTestServer(t, true)

	rec, _ := ts.do(t, http.MethodPost, "/api/tasks", handlers.LaunchRequest{Name: "format_disk"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/tasks", handlers.LaunchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	raw := httptest.NewRecorder()
	ts.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, raw.Code)
}

func TestScheduleAndCancelScheduledTask(t *testing.T) {
	ts := newTestServer(t, true)

	rec, body := ts.do(t, http.MethodPost, "/api/scheduled-tasks", handlers.ScheduleRequest{
		Name:            tasks.TaskSweep,
		Description:     "Handle unanswered messages",
		IntervalSeconds: 120,
		Forever:         true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)
	assert.EqualValues(t, 120, body["interval"])
	assert.Nil(t, body["repeat"])

	rec, body = ts.do(t, http.MethodGet, "/api/scheduled-tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["scheduled_tasks"].([]any), 1)

	rec, body = ts.do(t, http.MethodDelete, "/api/scheduled-tasks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cancelled"])

	rec, body = ts.do(t, http.MethodGet, "/api/scheduled-tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["scheduled_tasks"])

	rec, _ = ts.do(t, http.MethodDelete, "/api/scheduled-tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	negative := -1
	rec, _ = ts.do(t, http.MethodPost, "/api/scheduled-tasks", handlers.ScheduleRequest{Name: tasks.TaskSweep, Repeat: &negative})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleTaskRepeatZeroRunsOnce(t *testing.T) {
	ts := newTestServer(t, true)

	once := 0
	rec, body := ts.do(t, http.MethodPost, "/api/scheduled-tasks", handlers.ScheduleRequest{Name: tasks.TaskErrorEmail, Repeat: &once})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 0, body["repeat"])

	rec, body = ts.do(t, http.MethodPost, "/api/scheduled-tasks", handlers.ScheduleRequest{Name: tasks.TaskErrorEmail})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 10, body["repeat"])
}

func TestTaskLaunchRateLimited(t *testing.T) {
	ts := newTestServer(t, true, middleware.RateLimit{Pattern: "POST /api/tasks", Requests: 1, Window: time.Hour})
	req := handlers.LaunchRequest{Name: tasks.TaskCountWords, Args: []any{"https://example.com"}}

	rec, _ := ts.do(t, http.MethodPost, "/api/tasks", req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec, body := ts.do(t, http.MethodPost, "/api/tasks", req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])

	// Other routes are not limited.
	rec, _ = ts.do(t, http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	ts.do(t, http.MethodGet, "/health", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `supportbot_http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	ts := newTestServer(t, true)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := bridge.Encode(bridge.EventSetup, bridge.SetupData{ID: "conv-ws"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env bridge.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, bridge.EventSetupComplete, env.Event)

	convs, err := ts.store.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-ws", convs[0].ConversationID)
}
