package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"chronos/internal/models"
)

type cachePayload struct {
	Op         string `json:"op"` // set, delete, expire
	Key        string `json:"key"`
	Value      string `json:"value,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// CacheExecutor performs a Redis cache operation from the job payload.
type CacheExecutor struct {
	client *redis.Client
}

func NewCacheExecutor(client *redis.Client) *CacheExecutor {
	return &CacheExecutor{client: client}
}

func (e *CacheExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	var p cachePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Fail(TagValidationError, "invalid cache payload: %v", err)
	}
	if p.Key == "" {
		return Fail(TagValidationError, "cache payload requires key")
	}

	ttl := time.Duration(p.TTLSeconds) * time.Second

	var err error
	switch p.Op {
	case "set":
		err = e.client.Set(ctx, p.Key, p.Value, ttl).Err()
	case "delete":
		err = e.client.Del(ctx, p.Key).Err()
	case "expire":
		err = e.client.Expire(ctx, p.Key, ttl).Err()
	default:
		return Fail(TagValidationError, "unknown cache op %q", p.Op)
	}

	if err != nil {
		return Fail(TagConnectionError, "cache op %s failed: %v", p.Op, err)
	}
	return nil
}
