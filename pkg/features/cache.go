package features

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// Cache materializes the model-input projection to Redis so the risk service
// can score without a feature recompute. Cache failures are logged and
// degrade to a store read; they never fail the caller.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(pseudoID, version string) string {
	return fmt.Sprintf("features:%s:%s", version, pseudoID)
}

func (c *Cache) Put(ctx context.Context, pseudoID, version string, input map[string]float64) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(input)
	if err != nil {
		logger.Log.WithError(err).Warn("feature cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, cacheKey(pseudoID, version), data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("pseudo_id", pseudoID).Warn("feature cache write failed")
	}
}

// Get returns the cached projection, or (nil, false) on any miss or error.
func (c *Cache) Get(ctx context.Context, pseudoID, version string) (map[string]float64, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, cacheKey(pseudoID, version)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Log.WithError(err).WithField("pseudo_id", pseudoID).Warn("feature cache read failed")
		return nil, false
	}
	var input map[string]float64
	if err := json.Unmarshal(data, &input); err != nil {
		logger.Log.WithError(err).Warn("feature cache unmarshal failed")
		return nil, false
	}
	return input, true
}

func (c *Cache) Invalidate(ctx context.Context, pseudoID, version string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(pseudoID, version)).Err(); err != nil {
		logger.Log.WithError(err).WithField("pseudo_id", pseudoID).Warn("feature cache invalidate failed")
	}
}
