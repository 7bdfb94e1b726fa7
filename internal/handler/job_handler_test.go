package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumbaionweb/algoai-console/internal/config"
	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/handler"
	"github.com/mumbaionweb/algoai-console/internal/middleware"
	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/mumbaionweb/algoai-console/internal/repository"
	"github.com/mumbaionweb/algoai-console/internal/service"
	"github.com/mumbaionweb/algoai-console/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

// apiResponse mirrors the standard response envelope
type apiResponse struct {
	Code        int             `json:"code"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
	Diagnostics json.RawMessage `json:"diagnostics"`
}

// newTestRouter wires the job routes against a fake engine server. The
// snapshot cache points at an unreachable redis so status reads fall
// through to the engine.
func newTestRouter(t *testing.T, engineHandler http.Handler) (*gin.Engine, func()) {
	t.Helper()

	engineSrv := httptest.NewServer(engineHandler)

	engineClient := engine.NewClient(engineSrv.URL, "ws://127.0.0.1:1", "engine-token")
	jobClient := stream.NewJobClient(engineClient, stream.Config{})
	cache := service.NewSnapshotCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	jobService := service.NewJobService(context.Background(), engineClient, jobClient, cache, repository.NewJobRecordRepository(nil))

	authService := service.NewAuthService(nil, config.JWTConfig{Secret: testSecret})

	router := gin.New()
	v1 := router.Group("/api/v1")
	handler.NewJobHandler(jobService).RegisterRoutes(v1, middleware.AuthMiddleware(authService))

	return router, func() {
		jobClient.Close()
		engineSrv.Close()
	}
}

func testToken(t *testing.T) string {
	t.Helper()

	claims := service.JWTClaims{
		UserID:   1,
		Username: "tester",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStatusRequiresAuth(t *testing.T) {
	router, cleanup := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("engine must not be reached without auth")
	}))
	defer cleanup()

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/job-1", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, -1001, resp.Code)
}

func TestStatusFallsThroughToEngine(t *testing.T) {
	router, cleanup := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/backtests/job-1", r.URL.Path)
		json.NewEncoder(w).Encode(models.Job{
			JobID:    "job-1",
			Status:   models.JobStatusRunning,
			Progress: 42.5,
		})
	}))
	defer cleanup()

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/job-1", testToken(t))
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)

	var view service.StatusView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.NotNil(t, view.Job)
	assert.Equal(t, "job-1", view.Job.JobID)
	assert.Equal(t, models.JobStatusRunning, view.Job.Status)
	assert.InDelta(t, 42.5, view.Job.Progress, 1e-9)
	assert.False(t, view.Stalled)
}

func TestStatusMapsMissingJobTo404(t *testing.T) {
	router, cleanup := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cleanup()

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/gone", testToken(t))
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, -1003, resp.Code)
}

func TestCancelReturnsRefreshedStatusOnRejectedCommand(t *testing.T) {
	// The engine rejects the cancel but still serves the snapshot; the
	// caller gets the fresh terminal status with the command error noted.
	router, cleanup := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			return
		}
		json.NewEncoder(w).Encode(models.Job{
			JobID:    "job-1",
			Status:   models.JobStatusCompleted,
			Progress: 100,
		})
	}))
	defer cleanup()

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/job-1/cancel", testToken(t))
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)
	assert.Contains(t, string(resp.Diagnostics), "command_error")

	var view service.StatusView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, models.JobStatusCompleted, view.Job.Status)
}

func TestChartReturnsRequestedSeries(t *testing.T) {
	router, cleanup := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/backtests/job-1/chart", r.URL.Path)
		interval := r.URL.Query().Get("interval")
		json.NewEncoder(w).Encode(engine.BarChunk{
			Interval:       interval,
			TotalPoints:    2,
			ReturnedPoints: 2,
			Bars: []models.HistoricalBar{
				{Time: "2024-01-02", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
				{Time: "2024-01-03", Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 120},
			},
		})
	}))
	defer cleanup()

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/job-1/chart?intervals=day,week", testToken(t))
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)

	var series map[string]stream.Series
	require.NoError(t, json.Unmarshal(resp.Data, &series))
	require.Len(t, series, 2)
	for _, iv := range []string{"day", "week"} {
		require.Contains(t, series, iv)
		assert.Equal(t, stream.SeriesComplete, series[iv].State)
		assert.Len(t, series[iv].Bars, 2)
	}
}
