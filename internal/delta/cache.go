package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const keyFormat = "scores:current:%s" // scores:current:{event_id}

// Cache is a Redis write-through copy of the score state table used to warm
// a restarted process
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

// NewCache creates a state cache
func NewCache(redisClient *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cache{
		redis: redisClient,
		ttl:   ttl,
		log:   zap.L().With(zap.String("component", "state_cache")),
	}
}

// Store writes states in one pipeline
func (c *Cache) Store(ctx context.Context, states []models.ScoreState) error {
	if len(states) == 0 {
		return nil
	}

	pipe := c.redis.Pipeline()
	for _, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return eris.Wrapf(err, "marshal state %s", state.EventID)
		}
		pipe.Set(ctx, buildKey(state.EventID), data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "redis pipeline exec")
	}
	return nil
}

// Load returns the cached states for the given events; missing ones are skipped
func (c *Cache) Load(ctx context.Context, eventIDs []string) ([]models.ScoreState, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		keys[i] = buildKey(id)
	}

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil && err != redis.Nil {
		return nil, eris.Wrap(err, "redis mget")
	}

	states := make([]models.ScoreState, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var state models.ScoreState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			c.log.Warn("skipping corrupt cache entry", zap.String("event_id", eventIDs[i]), zap.Error(err))
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

func buildKey(eventID string) string {
	return fmt.Sprintf(keyFormat, eventID)
}
