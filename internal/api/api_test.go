package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/starford/rankwatch/internal/crawl"
	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/schedule"
	"github.com/starford/rankwatch/internal/store"
	"github.com/starford/rankwatch/internal/tasks"
	"github.com/starford/rankwatch/internal/testutil"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

// stubCrawler finishes immediately, or blocks until release is closed.
type stubCrawler struct {
	release chan struct{}
	err     error
}

func (c *stubCrawler) Run(ctx context.Context) (*crawl.Result, error) {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, crawl.ErrCancelled
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	rec := models.Record{Link: "https://example.com/@a/one", Name: "One", Rank: 1}
	return &crawl.Result{CrawlTime: t0, Records: []models.Record{rec}, Added: []models.Record{rec}}, nil
}

type testEnvironment struct {
	db        *store.DB
	crawler   *stubCrawler
	runner    *crawl.Runner
	scheduler *schedule.Scheduler
}

// testEnv sets up a temp SQLite store, runner, scheduler, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*testEnvironment, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) (*testEnvironment, http.Handler) {
	t.Helper()
	env := &testEnvironment{db: testutil.TestStore(t), crawler: &stubCrawler{}}
	env.runner = crawl.NewRunner(context.Background(), env.crawler, tasks.NewRegistry(0), testutil.Logger())
	t.Cleanup(env.runner.Wait)

	sched, err := schedule.New(schedule.Config{Interval: 24 * time.Hour, Timezone: "Asia/Shanghai"},
		func(context.Context) error { return nil }, testutil.Logger())
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}
	t.Cleanup(sched.Stop)
	env.scheduler = sched

	h := NewHandler(env.db, env.runner, sched)
	return env, NewRouter(h, authToken != "", authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedCatalog(t *testing.T, db *store.DB) {
	t.Helper()
	testutil.Seed(t, db, t0,
		[]models.Record{
			{Link: "https://example.com/@a/one", Name: "One", Rank: 1},
			{Link: "https://example.com/@b/two", Name: "Two", Rank: 2},
			{Link: "https://example.com/@c/three", Name: "Three", Rank: 3},
		},
		[]models.Record{
			{Link: "https://example.com/@b/two", Name: "Two", Rank: 1},
			{Link: "https://example.com/@a/one", Name: "One", Rank: 2},
		},
	)
}

func TestHealth(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d (must be public)", w.Code)
	}
	var resp HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "healthy" || resp.Busy {
		t.Errorf("resp = %+v", resp)
	}
}

func TestListAgents_ActiveByDefault(t *testing.T) {
	env, router := testEnv(t, "")
	seedCatalog(t, env.db)

	w := do(t, router, http.MethodGet, "/agents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp AgentListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || resp.Agents[0].Name != "Two" || resp.Agents[1].Name != "One" {
		t.Errorf("agents = %+v", resp.Agents)
	}

	w = do(t, router, http.MethodGet, "/agents?active_only=false&limit=10", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 3 {
		t.Errorf("all agents = %d, want 3", resp.Total)
	}

	w = do(t, router, http.MethodGet, "/agents?limit=1", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Agents[0].Rank != 1 {
		t.Errorf("limited = %+v", resp.Agents)
	}
}

func TestListAgents_EmptyIsArray(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/agents", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"agents":[]`)) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListAgents_BadParams(t *testing.T) {
	_, router := testEnv(t, "")
	for _, target := range []string{"/agents?limit=0", "/agents?limit=5000", "/agents?limit=x", "/agents?active_only=maybe"} {
		if w := do(t, router, http.MethodGet, target, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, w.Code)
		}
	}
}

func TestAgentHistory(t *testing.T) {
	env, router := testEnv(t, "")
	seedCatalog(t, env.db)

	w := do(t, router, http.MethodGet, "/agents/history?link="+url.QueryEscape("https://example.com/@a/one"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp HistoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.History) != 2 || resp.History[0].Rank != 1 || resp.History[1].Rank != 2 {
		t.Errorf("history = %+v", resp.History)
	}

	if w := do(t, router, http.MethodGet, "/agents/history", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing link = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/agents/history?link=/@a/one", nil); w.Code != http.StatusBadRequest {
		t.Errorf("relative link = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/agents/history?link="+url.QueryEscape("https://example.com/@x/none"), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown link = %d, want 404", w.Code)
	}
}

func TestStatisticsAndChanges(t *testing.T) {
	env, router := testEnv(t, "")
	seedCatalog(t, env.db)

	w := do(t, router, http.MethodGet, "/agents/statistics", nil)
	var stats models.Statistics
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.ActiveAgents != 2 || stats.InactiveAgents != 1 || stats.TotalCrawls != 2 || stats.LatestCrawl == nil {
		t.Errorf("stats = %+v", stats)
	}

	w = do(t, router, http.MethodGet, "/agents/changes", nil)
	var changes ChangesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &changes)
	if len(changes.Changes) != 2 {
		t.Fatalf("changes = %+v", changes.Changes)
	}
	for _, c := range changes.Changes {
		if c.Link == "https://example.com/@b/two" && c.Change != 1 {
			t.Errorf("two moved %d, want +1", c.Change)
		}
	}
}

func TestSearchAgents(t *testing.T) {
	env, router := testEnv(t, "")
	seedCatalog(t, env.db)

	w := do(t, router, http.MethodGet, "/agents/search?q=three", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Name != "Three" || resp.Results[0].IsActive {
		t.Errorf("results = %+v", resp.Results)
	}

	if w := do(t, router, http.MethodGet, "/agents/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
}

func TestStartCrawl_AsyncThenStatus(t *testing.T) {
	env, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/crawl/start", map[string]bool{"async": true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start = %d, body = %s", w.Code, w.Body.String())
	}
	var resp CrawlResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TaskID == "" {
		t.Fatal("missing task id")
	}
	env.runner.Wait()

	w = do(t, router, http.MethodGet, "/crawl/status/"+resp.TaskID, nil)
	var task tasks.Task
	_ = json.Unmarshal(w.Body.Bytes(), &task)
	if task.Status != tasks.StatusCompleted || task.Result == nil || task.Result.Records != 1 {
		t.Errorf("task = %+v", task)
	}

	w = do(t, router, http.MethodGet, "/tasks/"+resp.TaskID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("tasks/{id} = %d", w.Code)
	}
}

func TestStartCrawl_EmptyBodyDefaultsToAsync(t *testing.T) {
	env, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/crawl/start", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
	env.runner.Wait()
}

func TestStartCrawl_Sync(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/crawl/start", map[string]bool{"async": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp CrawlResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != tasks.StatusCompleted || resp.Outcome != "success" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStartCrawl_SyncFailure(t *testing.T) {
	env, router := testEnv(t, "")
	env.crawler.err = errors.New("browser crashed")
	w := do(t, router, http.MethodPost, "/crawl/start", map[string]bool{"async": false})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var resp CrawlResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != tasks.StatusFailed || resp.Outcome != "failed" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStartCrawl_ConflictWhileRunning(t *testing.T) {
	env, router := testEnv(t, "")
	env.crawler.release = make(chan struct{})

	if w := do(t, router, http.MethodPost, "/crawl/start", nil); w.Code != http.StatusAccepted {
		t.Fatalf("first = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/crawl/start", nil); w.Code != http.StatusConflict {
		t.Errorf("second = %d, want 409", w.Code)
	}
	w := do(t, router, http.MethodGet, "/health", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"busy":true`)) {
		t.Errorf("health while busy = %s", w.Body.String())
	}

	close(env.crawler.release)
	env.runner.Wait()

	w = do(t, router, http.MethodGet, "/tasks?limit=10", nil)
	var list TaskListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Errorf("tasks = %d, want 1", list.Total)
	}
}

func TestCancelCrawl(t *testing.T) {
	env, router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/crawl/cancel", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel idle = %d, want 404", w.Code)
	}

	env.crawler.release = make(chan struct{})
	w := do(t, router, http.MethodPost, "/crawl/start", nil)
	var resp CrawlResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	if w := do(t, router, http.MethodPost, "/crawl/cancel", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel = %d", w.Code)
	}
	env.runner.Wait()

	task, _ := env.runner.Tasks().Get(resp.TaskID)
	if task.Status != tasks.StatusCancelled {
		t.Errorf("status = %s, want cancelled", task.Status)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/crawl/status/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestScheduler_StartStopStatus(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tasks/scheduler/status", nil)
	var st schedule.Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Running || st.IntervalHours != 24 || st.Timezone != "Asia/Shanghai" {
		t.Errorf("initial status = %+v", st)
	}

	if w := do(t, router, http.MethodPost, "/tasks/scheduler/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/tasks/scheduler/start", nil); w.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodGet, "/tasks/scheduler/status", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Running || st.NextRun == nil {
		t.Errorf("running status = %+v", st)
	}

	if w := do(t, router, http.MethodPost, "/tasks/scheduler/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("stop = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/tasks/scheduler/status", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Running {
		t.Error("still running after stop")
	}
}

func TestScheduler_UpdateConfig(t *testing.T) {
	env, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/tasks/scheduler/config", SchedulerConfigRequest{Enabled: true, IntervalHours: 6})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	var st schedule.Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Running || st.IntervalHours != 6 || st.Timezone != "Asia/Shanghai" {
		t.Errorf("status = %+v", st)
	}

	for _, hours := range []int{0, 169} {
		w := do(t, router, http.MethodPut, "/tasks/scheduler/config", SchedulerConfigRequest{Enabled: true, IntervalHours: hours})
		if w.Code != http.StatusBadRequest {
			t.Errorf("interval %dh = %d, want 400", hours, w.Code)
		}
	}
	if env.scheduler.Config().Interval != 6*time.Hour {
		t.Error("rejected update was applied")
	}
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_APIKeyHeader(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/agents/statistics", nil)
	req.Header.Set("X-API-Key", "secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/agents", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong token = %d, want 403", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/tasks", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func blockingSSE() http.Handler {
	// Minimal SSE handler stub: writes headers and blocks until context done.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, "secret", blockingSSE())
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
