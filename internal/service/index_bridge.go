package service

import (
	"context"
	"fmt"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/pkg/events"
)

// TypeDocumentIndexRequested is published by the document owner when a
// document needs (re)indexing.
const TypeDocumentIndexRequested = "document.index_requested"

// NewIndexRequestHandler forwards broker events into the local indexing
// queue. Events missing a document or workspace id are rejected.
func NewIndexRequestHandler(publisher IPublisherService) func(ctx context.Context, event events.Event) error {
	return func(ctx context.Context, event events.Event) error {
		data := event.Payload()
		req := dto.IndexDocumentRequest{
			DocumentId:  stringField(data, "documentId"),
			WorkspaceId: stringField(data, "workspaceId"),
		}
		if err := publisher.PublishIndexRequest(ctx, req); err != nil {
			return fmt.Errorf("forward %s: %w", event.EventType(), err)
		}
		return nil
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
