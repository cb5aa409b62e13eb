package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/rag/retry"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "INDEX_DOCUMENT_TEST"

type fakeIndexer struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeIndexer) IndexDocument(_ context.Context, req dto.IndexDocumentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.DocumentId]++
	return f.errs[req.DocumentId]
}

func (f *fakeIndexer) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func startConsumer(t *testing.T, indexer DocumentIndexer, tracker *retry.Tracker) IPublisherService {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	consumer := NewConsumerService(pubSub, testTopic, indexer, tracker, logger.NewNopLogger())
	require.NoError(t, consumer.Consume(ctx))
	return NewPublisherService(testTopic, pubSub)
}

func TestConsumerIndexesDocument(t *testing.T) {
	indexer := newFakeIndexer()
	tracker := retry.NewTracker(logger.NewNopLogger())
	publisher := startConsumer(t, indexer, tracker)

	tracker.RecordFailure("doc-1", errors.New("timeout"))
	require.NoError(t, publisher.PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{
		DocumentId: "doc-1", WorkspaceId: "ws-1",
	}))

	assert.Eventually(t, func() bool { return indexer.callCount("doc-1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return tracker.GetFailureInfo("doc-1") == nil }, time.Second, 5*time.Millisecond)
}

func TestConsumerRetriesTransientFailuresUntilBudget(t *testing.T) {
	indexer := newFakeIndexer()
	indexer.errs["doc-2"] = errors.New("connection refused")
	tracker := retry.NewTracker(logger.NewNopLogger(), retry.WithMaxRetries(3))
	publisher := startConsumer(t, indexer, tracker)

	require.NoError(t, publisher.PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{
		DocumentId: "doc-2", WorkspaceId: "ws-1",
	}))

	assert.Eventually(t, func() bool { return tracker.ShouldSkip("doc-2") }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, indexer.callCount("doc-2"))
}

func TestConsumerDropsPermanentFailures(t *testing.T) {
	indexer := newFakeIndexer()
	indexer.errs["doc-3"] = errors.New("workspace not found")
	tracker := retry.NewTracker(logger.NewNopLogger(), retry.WithMaxRetries(3))
	publisher := startConsumer(t, indexer, tracker)

	require.NoError(t, publisher.PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{
		DocumentId: "doc-3", WorkspaceId: "ws-1",
	}))

	assert.Eventually(t, func() bool { return indexer.callCount("doc-3") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, indexer.callCount("doc-3"))
	assert.False(t, tracker.ShouldSkip("doc-3"))
}

func TestConsumerAcksMalformedPayloads(t *testing.T) {
	indexer := newFakeIndexer()
	tracker := retry.NewTracker(logger.NewNopLogger())
	publisher := startConsumer(t, indexer, tracker)

	require.NoError(t, publisher.Publish(context.Background(), []byte("{not json")))
	missing, err := json.Marshal(dto.IndexDocumentRequest{DocumentId: "doc-4"})
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(context.Background(), missing))
	require.NoError(t, publisher.PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{
		DocumentId: "doc-5", WorkspaceId: "ws-1",
	}))

	assert.Eventually(t, func() bool { return indexer.callCount("doc-5") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, indexer.callCount("doc-4"))
}

func TestConsumerSkipsExhaustedDocuments(t *testing.T) {
	indexer := newFakeIndexer()
	tracker := retry.NewTracker(logger.NewNopLogger(), retry.WithMaxRetries(1))
	tracker.RecordFailure("doc-6", errors.New("timeout"))
	publisher := startConsumer(t, indexer, tracker)

	require.NoError(t, publisher.PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{
		DocumentId: "doc-6", WorkspaceId: "ws-1",
	}))
	require.NoError(t, publisher.PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{
		DocumentId: "doc-7", WorkspaceId: "ws-1",
	}))

	assert.Eventually(t, func() bool { return indexer.callCount("doc-7") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, indexer.callCount("doc-6"))
}

func TestPublishIndexRequestValidates(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	err := NewPublisherService(testTopic, pubSub).PublishIndexRequest(context.Background(), dto.IndexDocumentRequest{})
	assert.Error(t, err)
}
