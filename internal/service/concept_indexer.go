package service

import (
	"context"
	"fmt"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/internal/pkg/logger"
)

// ConceptStore is the slice of the domain service the indexer needs.
type ConceptStore interface {
	HasConceptHierarchy(ctx context.Context, workspaceId string) (bool, error)
	BuildConceptHierarchy(ctx context.Context, workspaceId string) (int, error)
}

// conceptIndexer keeps a workspace's concept hierarchy in place whenever one
// of its documents is (re)indexed. Content embedding lives outside this
// service.
type conceptIndexer struct {
	concepts ConceptStore
	logger   logger.ILogger
}

func NewConceptIndexer(concepts ConceptStore, log logger.ILogger) DocumentIndexer {
	return &conceptIndexer{concepts: concepts, logger: log}
}

func (ci *conceptIndexer) IndexDocument(ctx context.Context, req dto.IndexDocumentRequest) error {
	exists, err := ci.concepts.HasConceptHierarchy(ctx, req.WorkspaceId)
	if err != nil {
		return fmt.Errorf("check concept hierarchy: %w", err)
	}
	if exists {
		return nil
	}

	built, err := ci.concepts.BuildConceptHierarchy(ctx, req.WorkspaceId)
	if err != nil {
		return fmt.Errorf("build concept hierarchy for %s: %w", req.WorkspaceId, err)
	}
	ci.logger.Info(indexerModule, "Concept hierarchy built from indexing request", map[string]interface{}{
		"document_id":  req.DocumentId,
		"workspace_id": req.WorkspaceId,
		"nodes":        built,
	})
	return nil
}
