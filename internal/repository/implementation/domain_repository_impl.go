package implementation

import (
	"context"
	"errors"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/mapper"
	"ai-context-pipeline/internal/model"
	"ai-context-pipeline/internal/repository/contract"
	"ai-context-pipeline/internal/repository/specification"

	"gorm.io/gorm"
)

type DomainProfileRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.DomainMapper
}

func NewDomainProfileRepository(db *gorm.DB) contract.DomainProfileRepository {
	return &DomainProfileRepositoryImpl{
		db:     db,
		mapper: mapper.NewDomainMapper(),
	}
}

func (r *DomainProfileRepositoryImpl) Create(ctx context.Context, profile *entity.DomainProfile) error {
	m := r.mapper.ProfileToModel(profile)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*profile = *r.mapper.ProfileToEntity(m)
	return nil
}

func (r *DomainProfileRepositoryImpl) Update(ctx context.Context, profile *entity.DomainProfile) error {
	m := r.mapper.ProfileToModel(profile)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*profile = *r.mapper.ProfileToEntity(m)
	return nil
}

func (r *DomainProfileRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.DomainProfile, error) {
	var m model.DomainProfile
	query := r.db.WithContext(ctx)
	for _, spec := range specs {
		query = spec.Apply(query)
	}
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ProfileToEntity(&m), nil
}

type ConceptNodeRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.DomainMapper
}

func NewConceptNodeRepository(db *gorm.DB) contract.ConceptNodeRepository {
	return &ConceptNodeRepositoryImpl{
		db:     db,
		mapper: mapper.NewDomainMapper(),
	}
}

func (r *ConceptNodeRepositoryImpl) CreateBulk(ctx context.Context, nodes []*entity.ConceptNode) error {
	if len(nodes) == 0 {
		return nil
	}
	models := make([]*model.ConceptNode, len(nodes))
	for i, n := range nodes {
		models[i] = r.mapper.ConceptToModel(n)
	}
	if err := r.db.WithContext(ctx).Create(&models).Error; err != nil {
		return err
	}
	for i, m := range models {
		*nodes[i] = *r.mapper.ConceptToEntity(m)
	}
	return nil
}

func (r *ConceptNodeRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConceptNode, error) {
	var models []*model.ConceptNode
	query := r.db.WithContext(ctx)
	for _, spec := range specs {
		query = spec.Apply(query)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ConceptsToEntities(models), nil
}

func (r *ConceptNodeRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.ConceptNode{})
	for _, spec := range specs {
		query = spec.Apply(query)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
