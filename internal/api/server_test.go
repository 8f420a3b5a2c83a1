package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ratesync/ratesync/internal/config"
	"github.com/ratesync/ratesync/internal/events"
	"github.com/ratesync/ratesync/internal/history"
	"github.com/ratesync/ratesync/internal/library"
	"github.com/ratesync/ratesync/internal/logger"
	"github.com/ratesync/ratesync/internal/refresh"
	"github.com/ratesync/ratesync/internal/scheduler"
	"github.com/ratesync/ratesync/internal/scheduler/tasks"
	"github.com/ratesync/ratesync/internal/testutil"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	tdb := testutil.NewTestDB(t)

	cfg := config.Default()
	cfg.Refresh.RunOnStart = false

	log := logger.New(logger.Config{Level: "debug", Format: "console"})
	t.Cleanup(func() { log.Close() })

	store := library.NewStore(tdb.Conn, tdb.Logger)
	historySvc := history.NewService(tdb.Conn, tdb.Logger)

	refresher := refresh.NewRefresher(store, nil, refresh.Options{
		Filter:        refresh.Filter{},
		RetryAttempts: 1,
	}, tdb.Logger)

	sched, err := scheduler.New(tdb.Logger)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	task, err := tasks.RegisterRatingRefreshTask(sched, refresher, historySvc, cfg.Refresh, tdb.Logger)
	if err != nil {
		t.Fatalf("Failed to register refresh task: %v", err)
	}

	hub := events.NewHub()
	go hub.Run()

	return NewServer(context.Background(), cfg, store, refresher, historySvc, sched, task, hub, log)
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("HealthCheck status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("HealthCheck status = %q, want %q", response["status"], "ok")
	}
}

func TestGetStatus(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GetStatus status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if response["itemCount"] != float64(0) {
		t.Errorf("GetStatus itemCount = %v, want 0", response["itemCount"])
	}
	if response["refreshing"] != false {
		t.Errorf("GetStatus refreshing = %v, want false", response["refreshing"])
	}
}

func TestListRunsEmpty(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ListRuns status = %d, want %d", rec.Code, http.StatusOK)
	}

	var runs []history.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns returned %d runs, want 0", len(runs))
	}
}

func TestListRunsInvalidLimit(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=bogus", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ListRuns status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/no-such-run", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("GetRun status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetRunAfterRecord(t *testing.T) {
	s := setupTestServer(t)

	report := &refresh.Report{
		RunID:      "run-api-1",
		Trigger:    "manual",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Selected:   3,
		Updated:    2,
		Skipped:    1,
	}
	if err := s.historySvc.Record(context.Background(), report); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-api-1", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GetRun status = %d, want %d", rec.Code, http.StatusOK)
	}

	var run history.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if run.RunID != "run-api-1" || run.Updated != 2 {
		t.Errorf("GetRun = %+v, want run-api-1 with 2 updated", run)
	}
}

func TestTriggerRefresh(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("TriggerRefresh status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	// The cycle runs in the background against an empty library; wait for
	// its report to land in history so teardown does not race the run.
	var runs []history.Run
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		runs, err = s.historySvc.List(context.Background(), 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(runs) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(runs) != 1 || runs[0].Trigger != "manual" {
		t.Errorf("List after trigger = %+v, want one manual run", runs)
	}
}

func TestListTasks(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ListTasks status = %d, want %d", rec.Code, http.StatusOK)
	}

	var infos []scheduler.TaskInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != tasks.RatingRefreshTaskID {
		t.Errorf("ListTasks = %+v, want single rating-refresh task", infos)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/unknown", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("GetTask status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetLogs(t *testing.T) {
	s := setupTestServer(t)

	s.log.Info().Msg("something happened")

	req := httptest.NewRequest(http.MethodGet, "/api/logs?limit=10", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GetLogs status = %d, want %d", rec.Code, http.StatusOK)
	}

	var response struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(response.Lines) == 0 {
		t.Error("GetLogs returned no lines, want at least one")
	}
}
