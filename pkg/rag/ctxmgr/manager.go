// Package ctxmgr assembles everything prompt construction needs to know
// about a question before retrieval runs, and folds the finished exchange
// back into conversation state afterwards.
package ctxmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/rag/coreference"
	"ai-context-pipeline/pkg/rag/domain"
	"ai-context-pipeline/pkg/rag/preference"
	"ai-context-pipeline/pkg/rag/session"
	"ai-context-pipeline/pkg/rag/task"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	logModule           = "CONTEXT"
	tracerName          = "ai-context-pipeline/ctxmgr"
	DefaultConceptLimit = 5
)

var ErrInvalidRequest = errors.New("invalid context request")

type CoreferenceResolver interface {
	Resolve(ctx context.Context, query string, conv coreference.Conversation) *coreference.Result
}

type SessionStore interface {
	GetOrCreate(ctx context.Context, conversationId string, defaults session.Defaults) (*entity.ConversationSession, error)
	GetSessionContext(ctx context.Context, conversationId string) (*session.SessionContext, error)
	UpdateInteraction(ctx context.Context, conversationId string, defaults session.Defaults, in session.Interaction) (*entity.ConversationSession, error)
}

type DomainService interface {
	GetDomainContext(ctx context.Context, workspaceId string) (*domain.DomainContext, error)
	CheckScope(ctx context.Context, workspaceId, query string) (*domain.ScopeResult, error)
	FindRelevantConcepts(ctx context.Context, workspaceId, query string, limit int) ([]domain.RelevantConcept, error)
	GetOrCreateProfile(ctx context.Context, workspaceId string, defaults domain.ProfileDefaults) (*entity.DomainProfile, error)
	HasConceptHierarchy(ctx context.Context, workspaceId string) (bool, error)
	BuildConceptHierarchy(ctx context.Context, workspaceId string) (int, error)
}

type PreferenceReader interface {
	GetPreferences(ctx context.Context, userId string) (*preference.Preferences, error)
}

type PreferenceLearner interface {
	Learn(ctx context.Context, in preference.Interaction) (*preference.Preferences, error)
}

type TaskTracker interface {
	GetTaskContext(ctx context.Context, conversationId string) (*task.TaskContext, error)
	TrackProgress(ctx context.Context, conversationId, intent, topic string) error
}

// Dependencies are the collaborators of the manager. Preferences, Learner
// and Tasks are optional; without them the corresponding context fields
// hold defaults.
type Dependencies struct {
	Coreference CoreferenceResolver
	Sessions    SessionStore
	Domain      DomainService
	Preferences PreferenceReader
	Learner     PreferenceLearner
	Tasks       TaskTracker
}

type Options struct {
	// Degrade fills a failed lookup with its default instead of failing
	// the whole build.
	Degrade      bool
	ConceptLimit int
}

// Context is the flat object handed to prompt construction. Field names are
// bound by prompt templates and must not change.
type Context struct {
	OriginalQuery         string                   `json:"originalQuery"`
	ResolvedQuery         string                   `json:"resolvedQuery"`
	HadReferences         bool                     `json:"hadReferences"`
	ResolvedReferences    []coreference.Reference  `json:"resolvedReferences"`
	CoreferenceConfidence float64                  `json:"coreferenceConfidence"`
	Session               *session.SessionContext  `json:"session"`
	UserPreferences       *preference.Preferences  `json:"userPreferences"`
	DomainContext         *domain.DomainContext    `json:"domainContext"`
	TaskContext           *task.TaskContext        `json:"taskContext"`
	Scope                 *domain.ScopeResult      `json:"scope"`
	RelevantConcepts      []domain.RelevantConcept `json:"relevantConcepts"`
	ProcessingTimeMs      int64                    `json:"processingTimeMs"`
}

// Initialization is the result of InitializeConversation.
type Initialization struct {
	Session       *entity.ConversationSession `json:"session"`
	Profile       *entity.DomainProfile       `json:"profile"`
	ConceptsBuilt int                         `json:"conceptsBuilt"`
}

type Manager struct {
	deps      Dependencies
	opts      Options
	logger    logger.ILogger
	tracer    trace.Tracer
	hierarchy singleflight.Group
	now       func() time.Time
}

func NewManager(deps Dependencies, opts Options, log logger.ILogger) *Manager {
	if opts.ConceptLimit <= 0 {
		opts.ConceptLimit = DefaultConceptLimit
	}
	return &Manager{
		deps:   deps,
		opts:   opts,
		logger: log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// BuildContext resolves references in the query and gathers session, user,
// domain and task context concurrently. Scope and concept lookups run
// afterwards because they need the resolved query.
func (m *Manager) BuildContext(ctx context.Context, req dto.BuildContextRequest) (*Context, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, span := m.tracer.Start(ctx, "context.build", trace.WithAttributes(
		attribute.String("conversation.id", req.ConversationId),
		attribute.String("workspace.id", req.WorkspaceId),
	))
	defer span.End()
	start := m.now()

	var (
		coref      *coreference.Result
		sessionCtx *session.SessionContext
		prefs      *preference.Preferences
		domainCtx  *domain.DomainContext
		taskCtx    *task.TaskContext
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coref = m.deps.Coreference.Resolve(gctx, req.Query, coreference.Conversation{
			Messages: req.Messages,
			Entities: req.Entities,
			Topics:   req.Topics,
		})
		return nil
	})
	g.Go(func() error {
		sc, err := m.deps.Sessions.GetSessionContext(gctx, req.ConversationId)
		if err != nil {
			return m.branchFailed("session", err)
		}
		sessionCtx = sc
		return nil
	})
	g.Go(func() error {
		if m.deps.Preferences == nil {
			return nil
		}
		p, err := m.deps.Preferences.GetPreferences(gctx, req.UserId)
		if err != nil {
			return m.branchFailed("preferences", err)
		}
		prefs = p
		return nil
	})
	g.Go(func() error {
		dc, err := m.deps.Domain.GetDomainContext(gctx, req.WorkspaceId)
		if err != nil {
			return m.branchFailed("domain", err)
		}
		domainCtx = dc
		return nil
	})
	g.Go(func() error {
		if m.deps.Tasks == nil {
			return nil
		}
		tc, err := m.deps.Tasks.GetTaskContext(gctx, req.ConversationId)
		if err != nil {
			return m.branchFailed("task", err)
		}
		taskCtx = tc
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &Context{
		OriginalQuery:         req.Query,
		ResolvedQuery:         coref.ResolvedQuery,
		HadReferences:         coref.HadReferences,
		ResolvedReferences:    coref.ResolvedReferences,
		CoreferenceConfidence: coref.Confidence,
		Session:               sessionCtx,
		UserPreferences:       prefs,
		DomainContext:         domainCtx,
		TaskContext:           taskCtx,
		RelevantConcepts:      []domain.RelevantConcept{},
	}
	m.fillDefaults(out, req)

	scope, err := m.deps.Domain.CheckScope(ctx, req.WorkspaceId, out.ResolvedQuery)
	if err != nil {
		if err := m.branchFailed("scope", err); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		scope = &domain.ScopeResult{InScope: true, MatchedKeywords: []string{}, Reason: domain.ReasonNoProfile}
	}
	out.Scope = scope

	concepts, err := m.deps.Domain.FindRelevantConcepts(ctx, req.WorkspaceId, out.ResolvedQuery, m.opts.ConceptLimit)
	if err != nil {
		if err := m.branchFailed("concepts", err); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		concepts = []domain.RelevantConcept{}
	}
	out.RelevantConcepts = concepts

	out.ProcessingTimeMs = m.now().Sub(start).Milliseconds()
	span.SetAttributes(
		attribute.Bool("coreference.had_references", out.HadReferences),
		attribute.Bool("scope.in_scope", out.Scope.InScope),
		attribute.Int64("processing_time_ms", out.ProcessingTimeMs),
	)

	m.logger.Debug(logModule, "Context built", map[string]interface{}{
		"conversation_id":    req.ConversationId,
		"had_references":     out.HadReferences,
		"phase":              string(out.Session.Phase),
		"dominant_intent":    out.TaskContext.DominantIntent,
		"in_scope":           out.Scope.InScope,
		"processing_time_ms": out.ProcessingTimeMs,
	})
	return out, nil
}

// branchFailed applies the partial-failure policy to one lookup. It returns
// nil when the caller should continue with a default.
func (m *Manager) branchFailed(branch string, err error) error {
	if !m.opts.Degrade {
		return fmt.Errorf("%s lookup: %w", branch, err)
	}
	m.logger.Warn(logModule, "Lookup failed, using default", map[string]interface{}{
		"branch": branch,
		"error":  err.Error(),
	})
	return nil
}

func (m *Manager) fillDefaults(out *Context, req dto.BuildContextRequest) {
	if out.ResolvedReferences == nil {
		out.ResolvedReferences = []coreference.Reference{}
	}
	if out.Session == nil {
		out.Session = &session.SessionContext{Phase: entity.PhaseGreeting, RecentEntities: []string{}}
	}
	if out.UserPreferences == nil {
		out.UserPreferences = preference.Default(req.UserId)
	}
	if out.DomainContext == nil {
		out.DomainContext = &domain.DomainContext{WorkspaceId: req.WorkspaceId, SeedTopics: []string{}, Keywords: []string{}}
	}
	if out.TaskContext == nil {
		out.TaskContext = &task.TaskContext{ConversationId: req.ConversationId, IntentSteps: map[string]int{}}
	}
}

// UpdateAfterInteraction records the finished exchange in session state,
// the preference learner and the task tracker concurrently. Every branch
// runs regardless of the others; their errors come back joined.
func (m *Manager) UpdateAfterInteraction(ctx context.Context, update dto.InteractionUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, span := m.tracer.Start(ctx, "context.update_after_interaction", trace.WithAttributes(
		attribute.String("conversation.id", update.ConversationId),
		attribute.String("intent", string(update.Intent)),
	))
	defer span.End()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(branch string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				m.logger.Warn(logModule, "Post-interaction update failed", map[string]interface{}{
					"branch":          branch,
					"conversation_id": update.ConversationId,
					"error":           err.Error(),
				})
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", branch, err))
				mu.Unlock()
			}
		}()
	}

	run("session", func() error {
		_, err := m.deps.Sessions.UpdateInteraction(ctx, update.ConversationId,
			session.Defaults{UserId: update.UserId, WorkspaceId: update.WorkspaceId},
			session.Interaction{
				UserQuery:         update.UserQuery,
				AssistantResponse: update.AssistantResponse,
				Intent:            update.Intent,
				Entities:          update.Entities,
				Topic:             update.Topic,
			})
		return err
	})
	if m.deps.Learner != nil {
		run("preferences", func() error {
			_, err := m.deps.Learner.Learn(ctx, preference.Interaction{
				UserId:            update.UserId,
				ConversationId:    update.ConversationId,
				WorkspaceId:       update.WorkspaceId,
				UserQuery:         update.UserQuery,
				AssistantResponse: update.AssistantResponse,
				Intent:            string(update.Intent),
				Topic:             update.Topic,
			})
			return err
		})
	}
	if m.deps.Tasks != nil {
		run("task", func() error {
			return m.deps.Tasks.TrackProgress(ctx, update.ConversationId, string(update.Intent), update.Topic)
		})
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// InitializeConversation prepares session and domain state for a new
// conversation. The concept hierarchy of a workspace is built at most once,
// even when several conversations start at the same time.
func (m *Manager) InitializeConversation(ctx context.Context, req dto.InitializeRequest) (*Initialization, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, span := m.tracer.Start(ctx, "context.initialize", trace.WithAttributes(
		attribute.String("conversation.id", req.ConversationId),
		attribute.String("workspace.id", req.WorkspaceId),
	))
	defer span.End()

	s, err := m.deps.Sessions.GetOrCreate(ctx, req.ConversationId, session.Defaults{
		UserId:      req.UserId,
		WorkspaceId: req.WorkspaceId,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	profile, err := m.deps.Domain.GetOrCreateProfile(ctx, req.WorkspaceId, domain.ProfileDefaults{
		Name:        req.WorkspaceName,
		Description: req.Description,
		SeedTopics:  req.SeedTopics,
		Keywords:    req.Keywords,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("initialize domain profile: %w", err)
	}

	built := 0
	if len(profile.SeedTopics) > 0 {
		v, err, _ := m.hierarchy.Do(req.WorkspaceId, func() (interface{}, error) {
			has, err := m.deps.Domain.HasConceptHierarchy(ctx, req.WorkspaceId)
			if err != nil || has {
				return 0, err
			}
			return m.deps.Domain.BuildConceptHierarchy(ctx, req.WorkspaceId)
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("build concept hierarchy: %w", err)
		}
		built = v.(int)
	}

	m.logger.Info(logModule, "Conversation initialized", map[string]interface{}{
		"conversation_id": req.ConversationId,
		"workspace_id":    req.WorkspaceId,
		"concepts_built":  built,
	})
	return &Initialization{Session: s, Profile: profile, ConceptsBuilt: built}, nil
}
