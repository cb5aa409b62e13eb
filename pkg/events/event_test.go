package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInteractionRecordedPayload(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := InteractionRecorded{
		ConversationId: "c1",
		UserId:         "u1",
		Intent:         "factual",
		QueryLength:    12,
		ResponseLength: 340,
		OccurredAt:     at,
	}

	var _ Event = e
	assert.Equal(t, "conversation.interaction", e.EventType())
	assert.Equal(t, at, e.Timestamp())

	p := e.Payload()
	assert.Equal(t, "c1", p["conversationId"])
	assert.Equal(t, 340, p["responseLength"])
	assert.Equal(t, "2026-01-02T03:04:05Z", p["occurredAt"])
	assert.NotContains(t, p, "response")
}
