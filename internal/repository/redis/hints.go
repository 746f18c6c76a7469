package redis

import (
	"context"
	"errors"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// HintStore implements healing.HintStore on Redis, one hash per test with
// step ids as fields. Hints survive process restarts, which is the point:
// a selector healed on Monday's run resolves directly on Tuesday's.
type HintStore struct {
	client *goredis.Client
}

// NewHintStore creates a hint store sharing the cache's connection.
func NewHintStore(c *Cache) *HintStore {
	return &HintStore{client: c.client}
}

func hintsKey(testName string) string {
	return prefixHints + domain.SafeName(testName)
}

// Hint returns the remembered selector for the step, or "" when none is
// stored.
func (s *HintStore) Hint(ctx context.Context, testName string, stepID int) (string, error) {
	sel, err := s.client.HGet(ctx, hintsKey(testName), strconv.Itoa(stepID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sel, nil
}

// Remember stores a healed selector for the step.
func (s *HintStore) Remember(ctx context.Context, testName string, stepID int, selector string) error {
	return s.client.HSet(ctx, hintsKey(testName), strconv.Itoa(stepID), selector).Err()
}

// Clear drops all hints for the named test, restoring pristine resolution.
func (s *HintStore) Clear(ctx context.Context, testName string) error {
	return s.client.Del(ctx, hintsKey(testName)).Err()
}
