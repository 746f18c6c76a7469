// Package redis caches run status for in-flight executions and persists
// healing hints across runs. Both are optional accelerators; the engine
// works without them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Key prefixes for the cache types.
const (
	prefixRun   = "run:"
	prefixHints = "healing:hints:"
)

// TTLs. Hints carry none: they stay valid until the test is re-recorded
// or the store is cleared.
const (
	runStatusTTL = 15 * time.Minute
	runResultTTL = 1 * time.Hour
)

// Cache wraps the Redis client.
type Cache struct {
	client *goredis.Client
}

// New creates a Redis cache client and verifies the connection.
func New(cfg config.RedisConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks Redis connectivity.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Run status caching. The API answers status polls for queued and running
// executions from here before the result reaches durable storage.

// SetRunStatus caches the current status of a run.
func (c *Cache) SetRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error {
	key := prefixRun + runID.String() + ":status"
	return c.client.Set(ctx, key, string(status), runStatusTTL).Err()
}

// GetRunStatus retrieves a cached run status. A cache miss returns "".
func (c *Cache) GetRunStatus(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	key := prefixRun + runID.String() + ":status"
	status, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return domain.RunStatus(status), nil
}

// SetResult caches a finished run result.
func (c *Cache) SetResult(ctx context.Context, result *domain.ExecutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	key := prefixRun + result.RunID.String() + ":result"
	return c.client.Set(ctx, key, data, runResultTTL).Err()
}

// GetResult retrieves a cached run result. A cache miss returns nil, nil.
func (c *Cache) GetResult(ctx context.Context, runID uuid.UUID) (*domain.ExecutionResult, error) {
	key := prefixRun + runID.String() + ":result"
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result domain.ExecutionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
