package model

import (
	"time"

	"ai-context-pipeline/internal/entity"

	"gorm.io/datatypes"
)

type ConversationSession struct {
	ConversationId string `gorm:"type:varchar(128);primaryKey"`
	UserId         string `gorm:"type:varchar(128);not null;index"`
	WorkspaceId    string `gorm:"type:varchar(128);not null;index"`

	CurrentPhase string                                      `gorm:"type:varchar(32);not null;default:'greeting'"`
	PhaseHistory datatypes.JSONType[[]entity.PhaseEntry]     `gorm:"type:jsonb"`
	CurrentTopic datatypes.JSONType[entity.CurrentTopic]     `gorm:"type:jsonb"`
	TopicHistory datatypes.JSONType[[]entity.TopicEntry]     `gorm:"type:jsonb"`
	Metrics      datatypes.JSONType[entity.SessionMetrics]   `gorm:"type:jsonb"`
	Entities     datatypes.JSONType[[]entity.ActiveEntity]   `gorm:"column:active_entities;type:jsonb"`
	Interaction  datatypes.JSONType[*entity.LastInteraction] `gorm:"column:last_interaction;type:jsonb"`

	IsActive       bool      `gorm:"not null;index"`
	LastActivityAt time.Time `gorm:"not null;index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (ConversationSession) TableName() string {
	return "conversation_sessions"
}
