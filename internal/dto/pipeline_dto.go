package dto

import (
	"ai-context-pipeline/pkg/llm"
	"ai-context-pipeline/pkg/rag/state"

	"github.com/go-playground/validator/v10"
)

const MaxQueryLength = 4000

var validate = validator.New()

type BuildContextRequest struct {
	Query          string        `json:"query" validate:"required,max=4000"`
	ConversationId string        `json:"conversation_id" validate:"required"`
	UserId         string        `json:"user_id" validate:"required"`
	WorkspaceId    string        `json:"workspace_id" validate:"required"`
	Messages       []llm.Message `json:"messages" validate:"dive"`
	Entities       []string      `json:"entities,omitempty"`
	Topics         []string      `json:"topics,omitempty"`
}

func (r *BuildContextRequest) Validate() error {
	return validate.Struct(r)
}

type InteractionUpdate struct {
	ConversationId    string                `json:"conversation_id" validate:"required"`
	UserId            string                `json:"user_id" validate:"required"`
	WorkspaceId       string                `json:"workspace_id" validate:"required"`
	UserQuery         string                `json:"user_query" validate:"required"`
	AssistantResponse string                `json:"assistant_response"`
	Intent            state.Intent          `json:"intent"`
	Entities          []state.EntityMention `json:"entities,omitempty" validate:"dive"`
	Topic             string                `json:"topic,omitempty"`
}

func (r *InteractionUpdate) Validate() error {
	return validate.Struct(r)
}

type InitializeRequest struct {
	ConversationId string   `json:"conversation_id" validate:"required"`
	UserId         string   `json:"user_id" validate:"required"`
	WorkspaceId    string   `json:"workspace_id" validate:"required"`
	WorkspaceName  string   `json:"workspace_name,omitempty" validate:"max=200"`
	Description    string   `json:"description,omitempty"`
	SeedTopics     []string `json:"seed_topics,omitempty" validate:"max=50,dive,required"`
	Keywords       []string `json:"keywords,omitempty" validate:"max=200,dive,required"`
}

func (r *InitializeRequest) Validate() error {
	return validate.Struct(r)
}

// IndexDocumentRequest is the payload of the indexing queue.
type IndexDocumentRequest struct {
	DocumentId  string `json:"documentId" validate:"required"`
	WorkspaceId string `json:"workspaceId" validate:"required"`
}

func (r *IndexDocumentRequest) Validate() error {
	return validate.Struct(r)
}
