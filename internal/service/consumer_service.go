package service

import (
	"context"
	"encoding/json"
	"errors"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/rag/retry"

	"github.com/ThreeDotsLabs/watermill/message"
)

const indexerModule = "INDEXER"

// DocumentIndexer does the actual work for one queued document.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, req dto.IndexDocumentRequest) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	indexer    DocumentIndexer
	tracker    *retry.Tracker
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	indexer DocumentIndexer,
	tracker *retry.Tracker,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		indexer:    indexer,
		tracker:    tracker,
		logger:     log,
	}
}

// Consume starts processing the indexing topic in the background. It stops
// when ctx is cancelled.
func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

// processMessage acks anything that should not come back: malformed
// payloads, successes, documents over their retry budget and permanent
// errors. Only transient failures are nacked for redelivery.
func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.IndexDocumentRequest
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error(indexerModule, "Failed to unmarshal message", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack()
		return
	}
	if err := payload.Validate(); err != nil {
		cs.logger.Error(indexerModule, "Invalid index request", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack()
		return
	}

	details := map[string]interface{}{
		"document_id":  payload.DocumentId,
		"workspace_id": payload.WorkspaceId,
	}

	if cs.tracker.ShouldSkip(payload.DocumentId) {
		cs.logger.Warn(indexerModule, "Skipping document over retry budget", details)
		msg.Ack()
		return
	}

	err := cs.indexer.IndexDocument(ctx, payload)
	if err == nil {
		cs.tracker.ResetFailures(payload.DocumentId)
		cs.logger.Info(indexerModule, "Document indexed", details)
		msg.Ack()
		return
	}

	exhausted := cs.tracker.RecordFailure(payload.DocumentId, err)
	details["error"] = err.Error()
	switch {
	case !retry.IsRetryableError(err):
		cs.logger.Error(indexerModule, "Permanent indexing failure, dropping", details)
		msg.Ack()
	case exhausted:
		cs.logger.Error(indexerModule, "Retry budget exhausted, dropping", details)
		msg.Ack()
	case errors.Is(err, context.Canceled):
		msg.Nack()
	default:
		cs.logger.Warn(indexerModule, "Indexing failed, requeueing", details)
		msg.Nack()
	}
}
