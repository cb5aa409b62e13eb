package contract

import (
	"context"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/repository/specification"
)

type DomainProfileRepository interface {
	Create(ctx context.Context, profile *entity.DomainProfile) error
	Update(ctx context.Context, profile *entity.DomainProfile) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.DomainProfile, error)
}

type ConceptNodeRepository interface {
	CreateBulk(ctx context.Context, nodes []*entity.ConceptNode) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConceptNode, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
