package entity

import "time"

// DomainProfile describes what a workspace's knowledge base is about.
type DomainProfile struct {
	WorkspaceId      string
	Name             string
	Description      string
	SeedTopics       []string
	Keywords         []string
	OutOfScopeTopics []string
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// ConceptNode is one node of a workspace concept hierarchy. Roots have an
// empty ParentName and Depth 0.
type ConceptNode struct {
	Id          string
	WorkspaceId string
	Name        string
	ParentName  string
	Keywords    []string
	Depth       int
	CreatedAt   time.Time
}
