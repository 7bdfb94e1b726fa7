package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix = "algoai:job:snapshot:"
	snapshotTTL       = 10 * time.Minute
)

// SnapshotCache keeps the latest Job snapshot per job id in Redis so status
// reads are served without touching the engine or the live subscription.
type SnapshotCache struct {
	redis *redis.Client
}

// NewSnapshotCache creates a new SnapshotCache
func NewSnapshotCache(redisClient *redis.Client) *SnapshotCache {
	return &SnapshotCache{redis: redisClient}
}

// Put stores a job snapshot, replacing any previous one
func (c *SnapshotCache) Put(ctx context.Context, job *models.Job) error {
	if job == nil || job.JobID == "" {
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, snapshotKeyPrefix+job.JobID, data, snapshotTTL).Err()
}

// Get returns the cached snapshot for a job id, or nil on a miss
func (c *SnapshotCache) Get(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := c.redis.Get(ctx, snapshotKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Drop removes the cached snapshot for a job id
func (c *SnapshotCache) Drop(ctx context.Context, jobID string) error {
	return c.redis.Del(ctx, snapshotKeyPrefix+jobID).Err()
}
