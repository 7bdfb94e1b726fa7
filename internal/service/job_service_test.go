package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/mumbaionweb/algoai-console/internal/repository"
	"github.com/mumbaionweb/algoai-console/internal/service"
	"github.com/mumbaionweb/algoai-console/internal/stream"
)

func TestUnwatchLeavesOtherSubscriptionRunning(t *testing.T) {
	// The engine serves job-a snapshots over the pull channel; the websocket
	// root points at a dead port so the client settles into polling fast.
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		json.NewEncoder(w).Encode(models.Job{
			JobID:    "job-a",
			Status:   models.JobStatusRunning,
			Progress: float64(n),
		})
	}))
	defer srv.Close()

	engineClient := engine.NewClient(srv.URL, "ws://127.0.0.1:1", "token")
	jobClient := stream.NewJobClient(engineClient, stream.Config{
		PollInterval:     5 * time.Millisecond,
		ReconnectDelay:   time.Millisecond,
		MaxReconnects:    1,
		StallThreshold:   time.Hour,
		WatchdogInterval: time.Hour,
	})
	defer jobClient.Close()

	cache := service.NewSnapshotCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	svc := service.NewJobService(context.Background(), engineClient, jobClient, cache, repository.NewJobRecordRepository(nil))

	svc.Watch("job-a")
	require.Eventually(t, func() bool {
		return polls.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)

	// unwatching a different job must not disturb the active subscription
	svc.Unwatch("job-b")
	before := polls.Load()
	require.Eventually(t, func() bool {
		return polls.Load() > before
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "job-a", jobClient.JobID())

	// unwatching the watched job tears it down
	svc.Unwatch("job-a")
	n := polls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, polls.Load())
}
