package unitofwork

import (
	"context"

	"ai-context-pipeline/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ConversationSessionRepository() contract.ConversationSessionRepository
	DomainProfileRepository() contract.DomainProfileRepository
	ConceptNodeRepository() contract.ConceptNodeRepository
}
