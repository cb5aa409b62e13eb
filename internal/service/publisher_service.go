package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-context-pipeline/internal/dto"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

type IPublisherService interface {
	Publish(ctx context.Context, payload []byte) error
	PublishIndexRequest(ctx context.Context, req dto.IndexDocumentRequest) error
}

type publisherService struct {
	topicName string
	publisher message.Publisher
}

func NewPublisherService(topicName string, publisher message.Publisher) IPublisherService {
	return &publisherService{
		topicName: topicName,
		publisher: publisher,
	}
}

func (ps *publisherService) Publish(ctx context.Context, payload []byte) error {
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	return ps.publisher.Publish(ps.topicName, msg)
}

func (ps *publisherService) PublishIndexRequest(ctx context.Context, req dto.IndexDocumentRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid index request: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return ps.Publish(ctx, payload)
}
