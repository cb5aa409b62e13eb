// Package session owns the durable per-conversation state: phase, topic,
// entity memory and interaction metrics. Reads are served from a
// process-local cache in front of the session repository.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/internal/repository/contract"
	"ai-context-pipeline/internal/repository/memory"
	"ai-context-pipeline/internal/repository/specification"
	"ai-context-pipeline/internal/repository/unitofwork"
	"ai-context-pipeline/pkg/rag/state"
)

const (
	logModule = "SESSION"

	// MaxStoredResponseLength bounds lastInteraction.assistantResponse, in runes.
	MaxStoredResponseLength = 500
	// DefaultMaxIdleMinutes is used by ClearInactiveSessions when no window is given.
	DefaultMaxIdleMinutes = 60
	recentEntityLimit     = 5
)

var ErrConversationIDRequired = errors.New("conversation id is required")

// Defaults seed a session created on first access.
type Defaults struct {
	UserId      string
	WorkspaceId string
}

// Interaction is one completed user/assistant exchange.
type Interaction struct {
	UserQuery         string
	AssistantResponse string
	Intent            state.Intent
	Entities          []state.EntityMention
	Topic             string
}

// SessionContext is the read projection handed to prompt construction.
type SessionContext struct {
	Phase            entity.ConversationPhase `json:"phase"`
	Topic            string                   `json:"topic"`
	TopicDepth       int                      `json:"topicDepth"`
	RecentEntities   []string                 `json:"recentEntities"`
	IsExploring      bool                     `json:"isExploring"`
	IsFocused        bool                     `json:"isFocused"`
	IsProblemSolving bool                     `json:"isProblemSolving"`
	MessageCount     int                      `json:"messageCount"`
	TopicChanges     int                      `json:"topicChanges"`
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	repoFactory unitofwork.RepositoryFactory
	cache       *memory.SessionCache
	locks       *keyedMutex
	logger      logger.ILogger
	now         func() time.Time
}

func NewManager(repoFactory unitofwork.RepositoryFactory, cache *memory.SessionCache, log logger.ILogger, opts ...Option) *Manager {
	m := &Manager{
		repoFactory: repoFactory,
		cache:       cache,
		locks:       newKeyedMutex(),
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) repo(ctx context.Context) contract.ConversationSessionRepository {
	return m.repoFactory.NewUnitOfWork(ctx).ConversationSessionRepository()
}

// GetOrCreate returns the session for a conversation, creating it with the
// given defaults on first access. Storage failures are logged and answered
// with an in-memory session so callers can keep going.
func (m *Manager) GetOrCreate(ctx context.Context, conversationId string, defaults Defaults) (*entity.ConversationSession, error) {
	if conversationId == "" {
		return nil, ErrConversationIDRequired
	}
	unlock := m.locks.Lock(conversationId)
	defer unlock()
	return m.getOrCreateLocked(ctx, conversationId, defaults), nil
}

func (m *Manager) getOrCreateLocked(ctx context.Context, conversationId string, defaults Defaults) *entity.ConversationSession {
	if s, ok := m.cache.Get(conversationId); ok {
		return s
	}

	s, err := m.load(ctx, conversationId)
	if err != nil {
		m.logger.Warn(logModule, "Failed to load session, using fresh state", map[string]interface{}{
			"conversation_id": conversationId,
			"error":           err.Error(),
		})
	}
	if s != nil {
		m.cache.Save(s)
		return s
	}

	s = entity.NewConversationSession(conversationId, defaults.UserId, defaults.WorkspaceId, m.now())
	if err == nil {
		if cerr := m.repo(ctx).Create(ctx, s); cerr != nil {
			m.logger.Warn(logModule, "Failed to persist new session", map[string]interface{}{
				"conversation_id": conversationId,
				"error":           cerr.Error(),
			})
		} else {
			m.logger.Info(logModule, "Session created", map[string]interface{}{
				"conversation_id": conversationId,
				"workspace_id":    defaults.WorkspaceId,
			})
		}
	}
	m.cache.Save(s)
	return s
}

func (m *Manager) load(ctx context.Context, conversationId string) (*entity.ConversationSession, error) {
	return m.repo(ctx).FindOne(ctx, specification.ByConversationID{ConversationID: conversationId})
}

// UpdateInteraction applies one exchange to the session. It is the only
// mutation path for interaction state and is serialized per conversation.
func (m *Manager) UpdateInteraction(ctx context.Context, conversationId string, defaults Defaults, in Interaction) (*entity.ConversationSession, error) {
	if conversationId == "" {
		return nil, ErrConversationIDRequired
	}
	unlock := m.locks.Lock(conversationId)
	defer unlock()

	s := m.getOrCreateLocked(ctx, conversationId, defaults)
	now := m.now()

	recordMessages(&s.Metrics, utf8.RuneCountInString(in.AssistantResponse))
	state.MergeEntities(s, in.Entities, now)
	if in.Topic != "" {
		if shift := state.HandleTopicChange(s, in.Topic, now); shift != entity.ShiftNone {
			m.logger.Debug(logModule, "Topic changed", map[string]interface{}{
				"conversation_id": conversationId,
				"topic":           in.Topic,
				"shift":           string(shift),
			})
		}
	}

	previous := s.CurrentPhase
	if state.Advance(s, state.Turn{Intent: in.Intent, Query: in.UserQuery}, now) {
		m.logger.Info(logModule, "Phase transition", map[string]interface{}{
			"conversation_id": conversationId,
			"from":            string(previous),
			"to":              string(s.CurrentPhase),
		})
	}
	s.CurrentTopic.MessageCount++

	s.LastInteraction = &entity.LastInteraction{
		Timestamp:         now,
		UserQuery:         in.UserQuery,
		AssistantResponse: truncateRunes(in.AssistantResponse, MaxStoredResponseLength),
		Intent:            string(in.Intent),
	}
	s.IsActive = true
	s.LastActivityAt = now
	s.UpdatedAt = &now

	if err := m.repo(ctx).Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session %s: %w", conversationId, err)
	}
	m.cache.Save(s)
	return s, nil
}

// GetSessionContext projects the session for prompt construction. A
// conversation with no state yet yields the greeting projection.
func (m *Manager) GetSessionContext(ctx context.Context, conversationId string) (*SessionContext, error) {
	if conversationId == "" {
		return nil, ErrConversationIDRequired
	}
	s, ok := m.cache.Get(conversationId)
	if !ok {
		var err error
		s, err = m.load(ctx, conversationId)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return &SessionContext{Phase: entity.PhaseGreeting, RecentEntities: []string{}}, nil
		}
		m.cache.Save(s)
	}

	return &SessionContext{
		Phase:            s.CurrentPhase,
		Topic:            s.CurrentTopic.Name,
		TopicDepth:       s.CurrentTopic.MessageCount,
		RecentEntities:   state.RecentEntityNames(s, recentEntityLimit),
		IsExploring:      s.CurrentPhase == entity.PhaseExploring,
		IsFocused:        s.CurrentPhase == entity.PhaseFocused,
		IsProblemSolving: s.CurrentPhase == entity.PhaseProblemSolving,
		MessageCount:     s.Metrics.TotalMessages,
		TopicChanges:     s.Metrics.TopicChanges,
	}, nil
}

// EndSession deactivates the conversation and evicts it from the cache.
// A session that only ever lived in the cache, because its first write
// failed, is persisted here in its ended state.
func (m *Manager) EndSession(ctx context.Context, conversationId string) error {
	if conversationId == "" {
		return ErrConversationIDRequired
	}
	unlock := m.locks.Lock(conversationId)
	defer unlock()

	s, err := m.load(ctx, conversationId)
	if err != nil {
		return err
	}
	if s == nil {
		s, _ = m.cache.Get(conversationId)
	}
	m.cache.Delete(conversationId)
	if s == nil {
		return nil
	}

	now := m.now()
	if s.CurrentPhase != entity.PhaseIdle {
		state.Transition(s, entity.PhaseIdle, now)
	}
	s.IsActive = false
	s.UpdatedAt = &now
	if err := m.repo(ctx).Save(ctx, s); err != nil {
		return fmt.Errorf("end session %s: %w", conversationId, err)
	}

	m.logger.Info(logModule, "Session ended", map[string]interface{}{
		"conversation_id": conversationId,
		"messages":        s.Metrics.TotalMessages,
	})
	return nil
}

// ClearInactiveSessions deactivates every session idle for longer than
// maxIdleMinutes and returns how many were affected.
func (m *Manager) ClearInactiveSessions(ctx context.Context, maxIdleMinutes int) (int, error) {
	if maxIdleMinutes <= 0 {
		maxIdleMinutes = DefaultMaxIdleMinutes
	}
	cutoff := m.now().Add(-time.Duration(maxIdleMinutes) * time.Minute)

	ids, err := m.repo(ctx).DeactivateStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale sessions: %w", err)
	}
	for _, id := range ids {
		m.cache.Delete(id)
	}

	if len(ids) > 0 {
		m.logger.Info(logModule, "Inactive sessions cleared", map[string]interface{}{
			"count":  len(ids),
			"cutoff": cutoff,
		})
	}
	return len(ids), nil
}

// recordMessages counts one user and one assistant turn and folds the
// response length into the running mean.
func recordMessages(metrics *entity.SessionMetrics, responseLength int) {
	metrics.TotalMessages += 2
	metrics.UserMessages++
	metrics.AssistantMessages++
	n := float64(metrics.AssistantMessages)
	metrics.AvgResponseLength += (float64(responseLength) - metrics.AvgResponseLength) / n
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
