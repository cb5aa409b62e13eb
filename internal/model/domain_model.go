package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DomainProfile struct {
	WorkspaceId      string                      `gorm:"type:varchar(128);primaryKey"`
	Name             string                      `gorm:"type:varchar(200);not null"`
	Description      string                      `gorm:"type:text"`
	SeedTopics       datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Keywords         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	OutOfScopeTopics datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime"`
}

func (DomainProfile) TableName() string {
	return "domain_profiles"
}

type ConceptNode struct {
	Id          uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	WorkspaceId string                      `gorm:"type:varchar(128);not null;index"`
	Name        string                      `gorm:"type:varchar(200);not null"`
	ParentName  string                      `gorm:"type:varchar(200)"`
	Keywords    datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Depth       int                         `gorm:"not null;default:0"`
	CreatedAt   time.Time                   `gorm:"autoCreateTime"`
}

func (ConceptNode) TableName() string {
	return "concept_nodes"
}
