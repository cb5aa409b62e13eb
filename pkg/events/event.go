package events

import "time"

// Event defines the contract for all pipeline events.
type Event interface {
	// EventType returns the dotted subject suffix (e.g. "conversation.interaction").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

const TypeConversationInteraction = "conversation.interaction"

// InteractionRecorded describes a completed exchange. Response text is not
// carried, only its size.
type InteractionRecorded struct {
	ConversationId string
	UserId         string
	WorkspaceId    string
	Intent         string
	Topic          string
	QueryLength    int
	ResponseLength int
	OccurredAt     time.Time
}

func (e InteractionRecorded) EventType() string {
	return TypeConversationInteraction
}

func (e InteractionRecorded) Payload() map[string]interface{} {
	return map[string]interface{}{
		"conversationId": e.ConversationId,
		"userId":         e.UserId,
		"workspaceId":    e.WorkspaceId,
		"intent":         e.Intent,
		"topic":          e.Topic,
		"queryLength":    e.QueryLength,
		"responseLength": e.ResponseLength,
		"occurredAt":     e.OccurredAt.Format(time.RFC3339Nano),
	}
}

func (e InteractionRecorded) Timestamp() time.Time {
	return e.OccurredAt
}
