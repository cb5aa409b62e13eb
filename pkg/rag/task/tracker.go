// Package task tracks what a conversation is working towards: how many
// steps of each kind have been taken and where it currently stands.
package task

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TTL bounds how long an untouched conversation keeps its task state.
	TTL = 24 * time.Hour

	keyPrefix       = "task:"
	fieldLastIntent = "last_intent"
	fieldTopic      = "topic"
	fieldSteps      = "steps"
	fieldStarted    = "started_at"
	fieldUpdated    = "updated_at"
	stepFieldPrefix = "intent:"
)

// TaskContext is the progress projection merged into the conversation context.
type TaskContext struct {
	ConversationId string         `json:"conversationId"`
	Active         bool           `json:"active"`
	CurrentIntent  string         `json:"currentIntent,omitempty"`
	Topic          string         `json:"topic,omitempty"`
	StepCount      int            `json:"stepCount"`
	IntentSteps    map[string]int `json:"intentSteps"`
	DominantIntent string         `json:"dominantIntent,omitempty"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	LastUpdated    *time.Time     `json:"lastUpdated,omitempty"`
}

type RedisTracker struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func key(conversationId string) string {
	return keyPrefix + conversationId
}

func (t *RedisTracker) GetTaskContext(ctx context.Context, conversationId string) (*TaskContext, error) {
	fields, err := t.rdb.HGetAll(ctx, key(conversationId)).Result()
	if err != nil {
		return nil, fmt.Errorf("read task context: %w", err)
	}
	return fromHash(conversationId, fields), nil
}

// TrackProgress records one step and refreshes the TTL.
func (t *RedisTracker) TrackProgress(ctx context.Context, conversationId, intent, topic string) error {
	k := key(conversationId)
	now := t.now().Format(time.RFC3339Nano)

	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, k, fieldStarted, now)
		pipe.HIncrBy(ctx, k, fieldSteps, 1)
		if intent != "" {
			pipe.HIncrBy(ctx, k, stepFieldPrefix+intent, 1)
			pipe.HSet(ctx, k, fieldLastIntent, intent)
		}
		if topic != "" {
			pipe.HSet(ctx, k, fieldTopic, topic)
		}
		pipe.HSet(ctx, k, fieldUpdated, now)
		pipe.Expire(ctx, k, TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("track task progress: %w", err)
	}
	return nil
}

func fromHash(conversationId string, fields map[string]string) *TaskContext {
	tc := &TaskContext{
		ConversationId: conversationId,
		IntentSteps:    map[string]int{},
	}
	if len(fields) == 0 {
		return tc
	}

	tc.Active = true
	tc.CurrentIntent = fields[fieldLastIntent]
	tc.Topic = fields[fieldTopic]
	tc.StepCount, _ = strconv.Atoi(fields[fieldSteps])
	tc.StartedAt = parseTime(fields[fieldStarted])
	tc.LastUpdated = parseTime(fields[fieldUpdated])

	for f, v := range fields {
		if !strings.HasPrefix(f, stepFieldPrefix) {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			tc.IntentSteps[strings.TrimPrefix(f, stepFieldPrefix)] = n
		}
	}
	tc.DominantIntent = dominantIntent(tc.IntentSteps)
	return tc
}

// dominantIntent returns the intent with the most steps, ties broken by name.
func dominantIntent(steps map[string]int) string {
	intents := make([]string, 0, len(steps))
	for i := range steps {
		intents = append(intents, i)
	}
	sort.Slice(intents, func(a, b int) bool {
		if steps[intents[a]] != steps[intents[b]] {
			return steps[intents[a]] > steps[intents[b]]
		}
		return intents[a] < intents[b]
	})
	if len(intents) == 0 {
		return ""
	}
	return intents[0]
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
