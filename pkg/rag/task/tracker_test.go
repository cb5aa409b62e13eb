package task

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHash(t *testing.T) {
	empty := fromHash("c1", map[string]string{})
	assert.False(t, empty.Active)
	assert.NotNil(t, empty.IntentSteps)
	assert.Equal(t, "", empty.DominantIntent)

	tc := fromHash("c1", map[string]string{
		fieldLastIntent:                "procedural",
		fieldTopic:                     "deployment",
		fieldSteps:                     "5",
		fieldStarted:                   "2026-02-01T10:00:00Z",
		fieldUpdated:                   "not a time",
		stepFieldPrefix + "procedural": "3",
		stepFieldPrefix + "factual":    "2",
	})
	assert.True(t, tc.Active)
	assert.Equal(t, "procedural", tc.CurrentIntent)
	assert.Equal(t, "deployment", tc.Topic)
	assert.Equal(t, 5, tc.StepCount)
	assert.Equal(t, map[string]int{"procedural": 3, "factual": 2}, tc.IntentSteps)
	require.NotNil(t, tc.StartedAt)
	assert.Equal(t, 2026, tc.StartedAt.Year())
	assert.Nil(t, tc.LastUpdated)
	assert.Equal(t, "procedural", tc.DominantIntent)
}

func TestDominantIntentIsExposedToPrompts(t *testing.T) {
	tc := fromHash("c1", map[string]string{
		fieldSteps:                        "4",
		stepFieldPrefix + "troubleshoot":  "2",
		stepFieldPrefix + "clarification": "2",
	})
	assert.Equal(t, "clarification", tc.DominantIntent)

	raw, err := json.Marshal(tc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"dominantIntent":"clarification"`)

	raw, err = json.Marshal(fromHash("c2", nil))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dominantIntent")
}

// Requires a reachable Redis, e.g. REDIS_URL=redis://localhost:6379/0.
func TestRedisTrackerRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conversationId := uuid.NewString()
	defer rdb.Del(ctx, key(conversationId))

	tracker := NewRedisTracker(rdb)
	require.NoError(t, tracker.TrackProgress(ctx, conversationId, "procedural", "deploy"))
	require.NoError(t, tracker.TrackProgress(ctx, conversationId, "procedural", ""))
	require.NoError(t, tracker.TrackProgress(ctx, conversationId, "clarification", ""))

	tc, err := tracker.GetTaskContext(ctx, conversationId)
	require.NoError(t, err)
	assert.Equal(t, 3, tc.StepCount)
	assert.Equal(t, "clarification", tc.CurrentIntent)
	assert.Equal(t, "deploy", tc.Topic)
	assert.Equal(t, "procedural", tc.DominantIntent)

	ttl, err := rdb.TTL(ctx, key(conversationId)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)
}
