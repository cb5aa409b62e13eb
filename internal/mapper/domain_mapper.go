package mapper

import (
	"time"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DomainMapper struct{}

func NewDomainMapper() *DomainMapper {
	return &DomainMapper{}
}

func (m *DomainMapper) ProfileToEntity(p *model.DomainProfile) *entity.DomainProfile {
	if p == nil {
		return nil
	}

	var updatedAt *time.Time
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		updatedAt = &t
	}

	return &entity.DomainProfile{
		WorkspaceId:      p.WorkspaceId,
		Name:             p.Name,
		Description:      p.Description,
		SeedTopics:       []string(p.SeedTopics),
		Keywords:         []string(p.Keywords),
		OutOfScopeTopics: []string(p.OutOfScopeTopics),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        updatedAt,
	}
}

func (m *DomainMapper) ProfileToModel(p *entity.DomainProfile) *model.DomainProfile {
	if p == nil {
		return nil
	}

	var updatedAt time.Time
	if p.UpdatedAt != nil {
		updatedAt = *p.UpdatedAt
	}

	return &model.DomainProfile{
		WorkspaceId:      p.WorkspaceId,
		Name:             p.Name,
		Description:      p.Description,
		SeedTopics:       datatypes.JSONSlice[string](p.SeedTopics),
		Keywords:         datatypes.JSONSlice[string](p.Keywords),
		OutOfScopeTopics: datatypes.JSONSlice[string](p.OutOfScopeTopics),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        updatedAt,
	}
}

func (m *DomainMapper) ConceptToEntity(c *model.ConceptNode) *entity.ConceptNode {
	if c == nil {
		return nil
	}
	return &entity.ConceptNode{
		Id:          c.Id.String(),
		WorkspaceId: c.WorkspaceId,
		Name:        c.Name,
		ParentName:  c.ParentName,
		Keywords:    []string(c.Keywords),
		Depth:       c.Depth,
		CreatedAt:   c.CreatedAt,
	}
}

func (m *DomainMapper) ConceptToModel(c *entity.ConceptNode) *model.ConceptNode {
	if c == nil {
		return nil
	}

	id, err := uuid.Parse(c.Id)
	if err != nil {
		id = uuid.New()
	}

	return &model.ConceptNode{
		Id:          id,
		WorkspaceId: c.WorkspaceId,
		Name:        c.Name,
		ParentName:  c.ParentName,
		Keywords:    datatypes.JSONSlice[string](c.Keywords),
		Depth:       c.Depth,
		CreatedAt:   c.CreatedAt,
	}
}

func (m *DomainMapper) ConceptsToEntities(models []*model.ConceptNode) []*entity.ConceptNode {
	entities := make([]*entity.ConceptNode, len(models))
	for i, c := range models {
		entities[i] = m.ConceptToEntity(c)
	}
	return entities
}
