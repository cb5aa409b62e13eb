package contract

import (
	"context"
	"time"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/repository/specification"
)

type ConversationSessionRepository interface {
	Create(ctx context.Context, session *entity.ConversationSession) error
	Save(ctx context.Context, session *entity.ConversationSession) error // Upsert keyed by conversation id
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ConversationSession, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConversationSession, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// DeactivateStale marks active sessions idle since cutoff as inactive and
	// returns their conversation ids.
	DeactivateStale(ctx context.Context, cutoff time.Time) ([]string, error)
}
