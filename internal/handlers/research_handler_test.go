package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"lexira-engine/internal/config"
	"lexira-engine/internal/handlers"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

type mockQueue struct {
	enqueueErr error
	statusErr  error
	status     *models.JobStatus
	cancelErr  error
}

func (m *mockQueue) Enqueue(_ context.Context, query models.Query) (*models.Job, error) {
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	return models.NewJob(query, models.TierMedium, 3), nil
}

func (m *mockQueue) Status(_ string) (*models.JobStatus, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.status, nil
}

func (m *mockQueue) Cancel(_ context.Context, _ string) error {
	return m.cancelErr
}

func (m *mockQueue) Stats() map[string]interface{} {
	return map[string]interface{}{"queued": 0}
}

func setupTestRouter(t *testing.T, queue handlers.ResearchQueue, health map[string]handlers.HealthCheck) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testLogger, err := logger.New(config.LogConfig{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("test logger: %v", err)
	}

	handler := handlers.NewResearchHandler(queue, health, nil, testLogger)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestSubmitResearchAccepted(t *testing.T) {
	router := setupTestRouter(t, &mockQueue{}, nil)

	recorder := postJSON(t, router, "/api/v1/research", map[string]interface{}{
		"query":        "Overview of employment law",
		"jurisdiction": "Zimbabwe",
		"caller_id":    "caller-1",
	})

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", recorder.Code, recorder.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response["job_id"] == "" {
		t.Error("response must carry a job id")
	}
	if response["state"] != "waiting" {
		t.Errorf("state = %v, want waiting", response["state"])
	}
}

func TestSubmitResearchValidation(t *testing.T) {
	router := setupTestRouter(t, &mockQueue{}, nil)

	recorder := postJSON(t, router, "/api/v1/research", map[string]interface{}{
		"jurisdiction": "Zimbabwe",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d, want 400", recorder.Code)
	}
}

func TestSubmitResearchRateLimited(t *testing.T) {
	queue := &mockQueue{enqueueErr: models.NewRateLimitError("rate limit exceeded", 30*time.Second)}
	router := setupTestRouter(t, queue, nil)

	recorder := postJSON(t, router, "/api/v1/research", map[string]interface{}{
		"query":     "Overview of employment law",
		"caller_id": "caller-1",
	})

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", recorder.Header().Get("Retry-After"))
	}

	var response struct {
		Error struct {
			Category string `json:"category"`
			Code     string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.Error.Category != "rate_limited" {
		t.Errorf("category = %s, want rate_limited", response.Error.Category)
	}
}

func TestSubmitResearchQuotaExceeded(t *testing.T) {
	queue := &mockQueue{enqueueErr: models.NewQuotaError("daily quota reached")}
	router := setupTestRouter(t, queue, nil)

	recorder := postJSON(t, router, "/api/v1/research", map[string]interface{}{
		"query":     "Overview of employment law",
		"caller_id": "caller-1",
	})

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", recorder.Code)
	}
}

func TestGetResearchStatus(t *testing.T) {
	queue := &mockQueue{status: &models.JobStatus{
		JobID: "job-1",
		State: models.JobStateCompleted,
		Tier:  models.TierMedium,
		Result: &models.ResearchResult{
			Text: "the answer",
			Tier: models.TierMedium,
		},
	}}
	router := setupTestRouter(t, queue, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/research/job-1", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var status models.JobStatus
	if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Result == nil || status.Result.Text != "the answer" {
		t.Errorf("result = %+v", status.Result)
	}
}

func TestGetResearchStatusNotFound(t *testing.T) {
	queue := &mockQueue{statusErr: models.ErrJobNotFound}
	router := setupTestRouter(t, queue, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/research/missing", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", recorder.Code)
	}
}

func TestCancelResearch(t *testing.T) {
	router := setupTestRouter(t, &mockQueue{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/research/job-1", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", recorder.Code)
	}
}

func TestHealthReportsComponents(t *testing.T) {
	health := map[string]handlers.HealthCheck{
		"up":   func(context.Context) error { return nil },
		"down": func(context.Context) error { return context.DeadlineExceeded },
	}
	router := setupTestRouter(t, &mockQueue{}, health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response["status"] != "unhealthy" {
		t.Errorf("overall status = %v", response["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := setupTestRouter(t, &mockQueue{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := response["queue"]; !ok {
		t.Error("stats must include the queue section")
	}
}
