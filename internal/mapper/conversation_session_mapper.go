package mapper

import (
	"time"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/model"

	"gorm.io/datatypes"
)

type ConversationSessionMapper struct{}

func NewConversationSessionMapper() *ConversationSessionMapper {
	return &ConversationSessionMapper{}
}

func (m *ConversationSessionMapper) ToEntity(s *model.ConversationSession) *entity.ConversationSession {
	if s == nil {
		return nil
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	phaseHistory := s.PhaseHistory.Data()
	if phaseHistory == nil {
		phaseHistory = []entity.PhaseEntry{}
	}
	topicHistory := s.TopicHistory.Data()
	if topicHistory == nil {
		topicHistory = []entity.TopicEntry{}
	}
	entities := s.Entities.Data()
	if entities == nil {
		entities = []entity.ActiveEntity{}
	}

	return &entity.ConversationSession{
		ConversationId:  s.ConversationId,
		UserId:          s.UserId,
		WorkspaceId:     s.WorkspaceId,
		CurrentPhase:    entity.ConversationPhase(s.CurrentPhase),
		PhaseHistory:    phaseHistory,
		CurrentTopic:    s.CurrentTopic.Data(),
		TopicHistory:    topicHistory,
		Metrics:         s.Metrics.Data(),
		ActiveEntities:  entities,
		LastInteraction: s.Interaction.Data(),
		IsActive:        s.IsActive,
		LastActivityAt:  s.LastActivityAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       updatedAt,
	}
}

func (m *ConversationSessionMapper) ToModel(s *entity.ConversationSession) *model.ConversationSession {
	if s == nil {
		return nil
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	return &model.ConversationSession{
		ConversationId: s.ConversationId,
		UserId:         s.UserId,
		WorkspaceId:    s.WorkspaceId,
		CurrentPhase:   string(s.CurrentPhase),
		PhaseHistory:   datatypes.NewJSONType(s.PhaseHistory),
		CurrentTopic:   datatypes.NewJSONType(s.CurrentTopic),
		TopicHistory:   datatypes.NewJSONType(s.TopicHistory),
		Metrics:        datatypes.NewJSONType(s.Metrics),
		Entities:       datatypes.NewJSONType(s.ActiveEntities),
		Interaction:    datatypes.NewJSONType(s.LastInteraction),
		IsActive:       s.IsActive,
		LastActivityAt: s.LastActivityAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}
