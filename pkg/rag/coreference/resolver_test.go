package coreference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	opts     llm.Options
	prompt   string
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return f.Generate(ctx, "", options...)
}

func (f *fakeProvider) Generate(_ context.Context, prompt string, options ...llm.Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompt = prompt
	f.opts = llm.Options{}
	for _, o := range options {
		o(&f.opts)
	}
	return f.response, f.err
}

type panickyProvider struct{}

func (panickyProvider) Chat(context.Context, []llm.Message, ...llm.Option) (string, error) {
	panic("boom")
}

func (panickyProvider) Generate(context.Context, string, ...llm.Option) (string, error) {
	panic("boom")
}

var history = []llm.Message{
	{Role: "user", Content: "What should I use for caching?"},
	{Role: "assistant", Content: "Redis is a solid choice for caching. It keeps data in memory."},
}

func TestResolveFastPathLeavesQueryUntouched(t *testing.T) {
	provider := &fakeProvider{}
	r := NewResolver(provider, logger.NewNopLogger())

	queries := []string{
		"How do I configure Redis persistence?",
		"List all supported databases",
		"Explain NATS JetStream retention",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			res := r.Resolve(context.Background(), q, Conversation{Messages: history, Entities: []string{"Redis"}})
			assert.Equal(t, q, res.ResolvedQuery)
			assert.False(t, res.HadReferences)
			assert.Equal(t, 1.0, res.Confidence)
		})
	}
	assert.Zero(t, provider.calls)
}

func TestResolveWithoutMessagesIsFastPath(t *testing.T) {
	r := NewResolver(&fakeProvider{}, logger.NewNopLogger())
	res := r.Resolve(context.Background(), "What is it?", Conversation{Entities: []string{"Redis"}})
	assert.Equal(t, "What is it?", res.ResolvedQuery)
	assert.False(t, res.HadReferences)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestResolveRuleTemplates(t *testing.T) {
	tests := []struct {
		query      string
		want       string
		confidence float64
	}{
		{"What is it?", "What is Redis?", 0.8},
		{"how does it work?", "how does Redis work?", 0.85},
		{"Tell me more about that", "Tell me more about Redis", 0.85},
		{"Why is that?", "Why is Redis?", 0.8},
		{"How do I configure it?", "How do I configure Redis?", 0.8},
	}

	provider := &fakeProvider{}
	r := NewResolver(provider, logger.NewNopLogger())
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := r.Resolve(context.Background(), tt.query, Conversation{Messages: history, Entities: []string{"Redis"}})
			assert.Equal(t, tt.want, res.ResolvedQuery)
			assert.True(t, res.HadReferences)
			assert.Equal(t, tt.confidence, res.Confidence)
			require.Len(t, res.ResolvedReferences, 1)
			assert.Equal(t, "Redis", res.ResolvedReferences[0].Resolved)
		})
	}
	assert.Zero(t, provider.calls, "rule hits must not reach the model")
}

func TestResolveExtractsReferentFromMessages(t *testing.T) {
	r := NewResolver(nil, logger.NewNopLogger())
	res := r.Resolve(context.Background(), "What is it?", Conversation{Messages: history})
	assert.Equal(t, "What is Redis?", res.ResolvedQuery)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestResolveIgnoresOpeningInterjections(t *testing.T) {
	r := NewResolver(nil, logger.NewNopLogger())
	replies := []string{
		"Great question. Redis keeps data in memory.",
		"Absolutely. Redis keeps data in memory.",
		"Sure! Redis keeps data in memory.",
	}
	for _, reply := range replies {
		t.Run(reply, func(t *testing.T) {
			res := r.Resolve(context.Background(), "What is it?", Conversation{Messages: []llm.Message{
				{Role: "user", Content: "Which store should hold sessions?"},
				{Role: "assistant", Content: reply},
			}})
			assert.Equal(t, "What is Redis?", res.ResolvedQuery)
		})
	}
}

func TestExtractNamesRanksSentenceInitialWordsLast(t *testing.T) {
	names := extractNames("Storage matters. We picked Postgres for durability.")
	assert.Equal(t, []string{"Postgres", "Storage"}, names)

	names = extractNames("Redis is fast. Teams like Redis for caching.")
	assert.Equal(t, "Redis", names[0])
}

func TestResolveFallsBackToModel(t *testing.T) {
	provider := &fakeProvider{response: `{"resolvedQuery":"Is Redis faster than Memcached?","hadReferences":true,"resolvedReferences":[{"original":"it","resolved":"Redis","confidence":0.9}],"confidence":0.9}`}
	r := NewResolver(provider, logger.NewNopLogger())

	res := r.Resolve(context.Background(), "Is it faster than Memcached?", Conversation{Messages: history})
	assert.Equal(t, "Is Redis faster than Memcached?", res.ResolvedQuery)
	assert.True(t, res.HadReferences)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 1, provider.calls)
	assert.True(t, provider.opts.JSONMode)
	assert.Equal(t, 0.0, provider.opts.Temperature)
	assert.Contains(t, provider.prompt, "Is it faster than Memcached?")

	again := r.Resolve(context.Background(), "Is it faster than Memcached?", Conversation{Messages: history})
	assert.Equal(t, res, again)
	assert.Equal(t, 1, provider.calls, "second call should be served from cache")
}

func TestResolveExtractsEmbeddedJSON(t *testing.T) {
	provider := &fakeProvider{response: "Sure! Here you go:\n```json\n{\"resolvedQuery\":\"Does Redis {really} scale?\",\"hadReferences\":true,\"confidence\":1.7}\n```"}
	r := NewResolver(provider, logger.NewNopLogger())

	res := r.Resolve(context.Background(), "Does it really scale?", Conversation{Messages: history})
	assert.Equal(t, "Does Redis {really} scale?", res.ResolvedQuery)
	assert.Equal(t, 1.0, res.Confidence)
	assert.NotNil(t, res.ResolvedReferences)
}

func TestResolveUnparseableResponse(t *testing.T) {
	provider := &fakeProvider{response: "I think they mean Redis"}
	r := NewResolver(provider, logger.NewNopLogger())

	res := r.Resolve(context.Background(), "Does it really scale?", Conversation{Messages: history})
	assert.Equal(t, "Does it really scale?", res.ResolvedQuery)
	assert.False(t, res.HadReferences)
	assert.Equal(t, 0.3, res.Confidence)
	assert.Zero(t, r.CacheLen())
}

func TestResolveFailsSoft(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		r := NewResolver(&fakeProvider{err: errors.New("connection refused")}, logger.NewNopLogger())
		res := r.Resolve(context.Background(), "Does it really scale?", Conversation{Messages: history})
		assert.Equal(t, "Does it really scale?", res.ResolvedQuery)
		assert.Equal(t, 0.5, res.Confidence)
		assert.False(t, res.HadReferences)
	})

	t.Run("provider panic", func(t *testing.T) {
		r := NewResolver(panickyProvider{}, logger.NewNopLogger())
		res := r.Resolve(context.Background(), "Does it really scale?", Conversation{Messages: history})
		assert.Equal(t, "Does it really scale?", res.ResolvedQuery)
		assert.Equal(t, 0.5, res.Confidence)
	})
}

func TestCacheIsBoundedByCount(t *testing.T) {
	provider := &fakeProvider{response: `{"resolvedQuery":"x","hadReferences":true,"confidence":0.9}`}
	r := NewResolver(provider, logger.NewNopLogger(), WithCacheSize(3))

	for i := 0; i < 5; i++ {
		r.Resolve(context.Background(), fmt.Sprintf("Does it scale to %d nodes?", i), Conversation{Messages: history})
	}
	assert.Equal(t, 3, r.CacheLen())

	r.Resolve(context.Background(), "Does it scale to 0 nodes?", Conversation{Messages: history})
	assert.Equal(t, 6, provider.calls, "oldest entry should have been evicted")
}

func TestExtractCandidates(t *testing.T) {
	found := extractCandidates(Conversation{
		Messages: []llm.Message{
			{Role: "user", Content: `Compare "event sourcing" with CQRS`},
			{Role: "assistant", Content: "The Kafka Streams API and maxPollRecords matter. Use retry_backoff too."},
		},
		Entities: []string{"Postgres"},
		Topics:   []string{"architecture"},
	})

	assert.Equal(t, "Postgres", found.entities[0])
	assert.Contains(t, found.entities, "Kafka Streams API")
	assert.Contains(t, found.entities, "maxPollRecords")
	assert.Contains(t, found.entities, "retry_backoff")
	assert.Contains(t, found.entities, "event sourcing")
	assert.Contains(t, found.entities, "CQRS")
	assert.NotContains(t, found.entities, "The")
	assert.Equal(t, "The Kafka Streams API and maxPollRecords matter", found.lastAnswerTopic)
	assert.Equal(t, []string{"architecture", found.lastAnswerTopic}, found.topics)
}

func TestExtractCandidatesCaps(t *testing.T) {
	var entities []string
	for i := 0; i < 40; i++ {
		entities = append(entities, fmt.Sprintf("Entity%d", i))
	}
	found := extractCandidates(Conversation{Entities: entities, Messages: history})
	assert.Len(t, found.entities, maxEntities)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":"}"}`, extractJSON(`noise {"a":"}"} tail`))
	assert.Equal(t, `{"a":{"b":1}}`, extractJSON(`{"a":{"b":1}} {"c":2}`))
	assert.Equal(t, "", extractJSON(`{"unterminated": 1`))
	assert.Equal(t, "", extractJSON("no braces"))
}
