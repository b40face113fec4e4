//go:build integration

package delta_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/XavierBriggs/Iris/internal/delta"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/pkg/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCache_StoreLoad(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	cache := delta.NewCache(client, time.Minute)

	states := []models.ScoreState{
		{EventID: "it-e1", League: "basketball_nba", HomeScore: 88, AwayScore: 90, Phase: models.PhaseLive, UpdatedAt: testutil.BaseTime, Provenance: models.ProvenancePush},
		{EventID: "it-e2", League: "baseball_mlb", HomeScore: 2, AwayScore: 2, Phase: models.PhaseDelayed, UpdatedAt: testutil.BaseTime},
	}
	require.NoError(t, cache.Store(ctx, states))
	t.Cleanup(func() { client.Del(ctx, "scores:current:it-e1", "scores:current:it-e2") })

	loaded, err := cache.Load(ctx, []string{"it-e1", "it-missing", "it-e2"})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 90, loaded[0].AwayScore)
	assert.True(t, loaded[0].UpdatedAt.Equal(testutil.BaseTime))
	assert.Equal(t, models.PhaseDelayed, loaded[1].Phase)

	ttl, err := client.TTL(ctx, "scores:current:it-e1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
