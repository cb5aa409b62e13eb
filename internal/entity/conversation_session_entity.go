package entity

import "time"

type ConversationPhase string

const (
	PhaseGreeting       ConversationPhase = "greeting"
	PhaseExploring      ConversationPhase = "exploring"
	PhaseFocused        ConversationPhase = "focused"
	PhaseComparing      ConversationPhase = "comparing"
	PhaseProblemSolving ConversationPhase = "problem_solving"
	PhaseClarifying     ConversationPhase = "clarifying"
	PhaseConcluding     ConversationPhase = "concluding"
	PhaseIdle           ConversationPhase = "idle"
)

type TopicShift string

const (
	ShiftNone     TopicShift = "none"
	ShiftRelated  TopicShift = "related"
	ShiftComplete TopicShift = "complete"
	ShiftReturn   TopicShift = "return"
)

// History caps. Oldest entries are dropped first.
const (
	MaxPhaseHistory   = 20
	MaxTopicHistory   = 20
	MaxActiveEntities = 20
)

type PhaseEntry struct {
	Phase           ConversationPhase `json:"phase"`
	EnteredAt       time.Time         `json:"enteredAt"`
	DurationSeconds int64             `json:"durationSeconds"`
}

type CurrentTopic struct {
	Name         string    `json:"name"`
	StartedAt    time.Time `json:"startedAt"`
	MessageCount int       `json:"messageCount"`
	Entities     []string  `json:"entities"`
}

type TopicEntry struct {
	Name         string     `json:"name"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      time.Time  `json:"endedAt"`
	MessageCount int        `json:"messageCount"`
	ShiftType    TopicShift `json:"shiftType"`
}

type SessionMetrics struct {
	TotalMessages         int     `json:"totalMessages"`
	UserMessages          int     `json:"userMessages"`
	AssistantMessages     int     `json:"assistantMessages"`
	AvgResponseLength     float64 `json:"avgResponseLength"`
	TopicChanges          int     `json:"topicChanges"`
	ClarificationRequests int     `json:"clarificationRequests"`
}

type ActiveEntity struct {
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	FirstMentioned time.Time `json:"firstMentioned"`
	LastMentioned  time.Time `json:"lastMentioned"`
	MentionCount   int       `json:"mentionCount"`
}

type LastInteraction struct {
	Timestamp         time.Time `json:"timestamp"`
	UserQuery         string    `json:"userQuery"`
	AssistantResponse string    `json:"assistantResponse"`
	Intent            string    `json:"intent"`
}

// ConversationSession is the durable per-conversation state. It is never
// deleted, only deactivated.
type ConversationSession struct {
	ConversationId string
	UserId         string
	WorkspaceId    string

	CurrentPhase ConversationPhase
	PhaseHistory []PhaseEntry

	CurrentTopic CurrentTopic
	TopicHistory []TopicEntry

	Metrics         SessionMetrics
	ActiveEntities  []ActiveEntity
	LastInteraction *LastInteraction

	IsActive       bool
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// NewConversationSession returns a session in the greeting phase.
func NewConversationSession(conversationId, userId, workspaceId string, now time.Time) *ConversationSession {
	return &ConversationSession{
		ConversationId: conversationId,
		UserId:         userId,
		WorkspaceId:    workspaceId,
		CurrentPhase:   PhaseGreeting,
		PhaseHistory:   []PhaseEntry{{Phase: PhaseGreeting, EnteredAt: now}},
		TopicHistory:   []TopicEntry{},
		ActiveEntities: []ActiveEntity{},
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Clone returns a deep copy so cached sessions are never mutated through a
// shared reference.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.PhaseHistory = append([]PhaseEntry(nil), s.PhaseHistory...)
	cp.TopicHistory = append([]TopicEntry(nil), s.TopicHistory...)
	cp.ActiveEntities = append([]ActiveEntity(nil), s.ActiveEntities...)
	cp.CurrentTopic.Entities = append([]string(nil), s.CurrentTopic.Entities...)
	if s.LastInteraction != nil {
		li := *s.LastInteraction
		cp.LastInteraction = &li
	}
	if s.UpdatedAt != nil {
		u := *s.UpdatedAt
		cp.UpdatedAt = &u
	}
	return &cp
}
