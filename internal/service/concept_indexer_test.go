package service

import (
	"context"
	"errors"
	"testing"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConcepts struct {
	exists   bool
	builds   int
	buildErr error
}

func (f *fakeConcepts) HasConceptHierarchy(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeConcepts) BuildConceptHierarchy(context.Context, string) (int, error) {
	f.builds++
	if f.buildErr != nil {
		return 0, f.buildErr
	}
	f.exists = true
	return 3, nil
}

func TestConceptIndexerBuildsOnce(t *testing.T) {
	concepts := &fakeConcepts{}
	indexer := NewConceptIndexer(concepts, logger.NewNopLogger())
	req := dto.IndexDocumentRequest{DocumentId: "doc-1", WorkspaceId: "ws-1"}

	require.NoError(t, indexer.IndexDocument(context.Background(), req))
	require.NoError(t, indexer.IndexDocument(context.Background(), req))
	assert.Equal(t, 1, concepts.builds)
}

func TestConceptIndexerWrapsErrors(t *testing.T) {
	cause := errors.New("domain profile not found")
	indexer := NewConceptIndexer(&fakeConcepts{buildErr: cause}, logger.NewNopLogger())

	err := indexer.IndexDocument(context.Background(), dto.IndexDocumentRequest{DocumentId: "d", WorkspaceId: "ws-9"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ws-9")
}

func TestIndexRequestHandlerForwards(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(context.Background(), testTopic)
	require.NoError(t, err)

	handler := NewIndexRequestHandler(NewPublisherService(testTopic, pubSub))
	require.NoError(t, handler(context.Background(), events.BaseEvent{
		Type: TypeDocumentIndexRequested,
		Data: map[string]interface{}{"documentId": "doc-1", "workspaceId": "ws-1"},
	}))

	msg := <-messages
	msg.Ack()
	assert.JSONEq(t, `{"documentId":"doc-1","workspaceId":"ws-1"}`, string(msg.Payload))

	err = handler(context.Background(), events.BaseEvent{Type: TypeDocumentIndexRequested, Data: map[string]interface{}{}})
	assert.Error(t, err)
}
