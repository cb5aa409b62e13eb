package state

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"ai-context-pipeline/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newSession() *entity.ConversationSession {
	return entity.NewConversationSession("c1", "u1", "w1", t0)
}

func TestDeterminePhase(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(s *entity.ConversationSession)
		turn    Turn
		now     time.Time
		want    entity.ConversationPhase
		changed bool
	}{
		{
			name: "early chitchat stays greeting",
			setup: func(s *entity.ConversationSession) {
				s.Metrics.TotalMessages = 2
			},
			turn: Turn{Intent: IntentChitchat, Query: "hi"},
			want: entity.PhaseGreeting,
		},
		{
			name: "clarification",
			turn: Turn{Intent: IntentClarification},
			want: entity.PhaseClarifying, changed: true,
		},
		{
			name: "comparison",
			turn: Turn{Intent: IntentComparison},
			want: entity.PhaseComparing, changed: true,
		},
		{
			name: "procedural",
			turn: Turn{Intent: IntentProcedural},
			want: entity.PhaseProblemSolving, changed: true,
		},
		{
			name: "deep explanation becomes problem solving",
			setup: func(s *entity.ConversationSession) {
				s.CurrentTopic.MessageCount = 4
			},
			turn: Turn{Intent: IntentExplanation},
			want: entity.PhaseProblemSolving, changed: true,
		},
		{
			name: "factual on an established topic focuses",
			setup: func(s *entity.ConversationSession) {
				s.CurrentTopic.MessageCount = 3
			},
			turn: Turn{Intent: IntentFactual},
			want: entity.PhaseFocused, changed: true,
		},
		{
			name: "many topic changes explore",
			setup: func(s *entity.ConversationSession) {
				s.Metrics.TopicChanges = 3
				s.Metrics.TotalMessages = 10
				s.CurrentTopic.MessageCount = 1
			},
			turn: Turn{Intent: IntentFactual},
			want: entity.PhaseExploring, changed: true,
		},
		{
			name: "closing phrase concludes",
			setup: func(s *entity.ConversationSession) {
				s.Metrics.TotalMessages = 8
			},
			turn: Turn{Intent: IntentChitchat, Query: "Thanks, that's all"},
			want: entity.PhaseConcluding, changed: true,
		},
		{
			name: "chitchat without closing phrase keeps phase",
			setup: func(s *entity.ConversationSession) {
				s.Metrics.TotalMessages = 8
			},
			turn: Turn{Intent: IntentChitchat, Query: "nice weather"},
			want: entity.PhaseGreeting,
		},
		{
			name: "long silence goes idle",
			setup: func(s *entity.ConversationSession) {
				s.Metrics.TotalMessages = 6
			},
			turn: Turn{Intent: IntentFactual},
			now:  t0.Add(31 * time.Minute),
			want: entity.PhaseIdle, changed: true,
		},
		{
			name: "clarification outranks comparison rules",
			setup: func(s *entity.ConversationSession) {
				s.CurrentTopic.MessageCount = 5
				s.Metrics.TopicChanges = 5
			},
			turn: Turn{Intent: IntentClarification},
			want: entity.PhaseClarifying, changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession()
			if tt.setup != nil {
				tt.setup(s)
			}
			now := tt.now
			if now.IsZero() {
				now = t0.Add(time.Minute)
			}
			got, changed := DeterminePhase(s, tt.turn, now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestDeterminePhaseIsDeterministic(t *testing.T) {
	s := newSession()
	s.CurrentTopic.MessageCount = 3
	turn := Turn{Intent: IntentExplanation, Query: "why does it evict keys?"}
	now := t0.Add(2 * time.Minute)

	first, _ := DeterminePhase(s, turn, now)
	for i := 0; i < 50; i++ {
		got, _ := DeterminePhase(s, turn, now)
		require.Equal(t, first, got)
	}
	assert.Equal(t, entity.PhaseGreeting, s.CurrentPhase, "evaluation must not mutate the session")
}

func TestTransitionRecordsDurationAndCaps(t *testing.T) {
	s := newSession()
	Transition(s, entity.PhaseFocused, t0.Add(90*time.Second+400*time.Millisecond))

	require.Len(t, s.PhaseHistory, 2)
	assert.Equal(t, int64(90), s.PhaseHistory[0].DurationSeconds)
	assert.Equal(t, entity.PhaseFocused, s.CurrentPhase)

	for i := 0; i < 40; i++ {
		Transition(s, entity.PhaseExploring, t0.Add(time.Duration(i)*time.Minute))
	}
	assert.Len(t, s.PhaseHistory, entity.MaxPhaseHistory)
}

func TestAdvanceCountsClarifications(t *testing.T) {
	s := newSession()
	assert.True(t, Advance(s, Turn{Intent: IntentClarification}, t0.Add(time.Minute)))
	assert.False(t, Advance(s, Turn{Intent: IntentClarification}, t0.Add(2*time.Minute)))
	assert.Equal(t, 2, s.Metrics.ClarificationRequests)
	assert.Equal(t, entity.PhaseClarifying, s.CurrentPhase)
}

func TestHandleTopicChange(t *testing.T) {
	s := newSession()

	assert.Equal(t, entity.ShiftNone, HandleTopicChange(s, "Caching", t0))
	assert.Equal(t, "Caching", s.CurrentTopic.Name)
	assert.Equal(t, 0, s.Metrics.TopicChanges)

	assert.Equal(t, entity.ShiftNone, HandleTopicChange(s, "caching", t0))
	assert.Empty(t, s.TopicHistory)

	assert.Equal(t, entity.ShiftComplete, HandleTopicChange(s, "Queues", t0.Add(time.Minute)))
	assert.Equal(t, entity.ShiftReturn, HandleTopicChange(s, "CACHING", t0.Add(2*time.Minute)))
	assert.Equal(t, 2, s.Metrics.TopicChanges)
	require.Len(t, s.TopicHistory, 2)
	assert.Equal(t, "Queues", s.TopicHistory[1].Name)
	assert.Equal(t, entity.ShiftReturn, s.TopicHistory[1].ShiftType)

	for i := 0; i < 30; i++ {
		HandleTopicChange(s, fmt.Sprintf("topic-%d", i), t0.Add(time.Duration(i+3)*time.Minute))
	}
	assert.Len(t, s.TopicHistory, entity.MaxTopicHistory)
}

func TestMergeEntitiesDeduplicatesAndCaps(t *testing.T) {
	s := newSession()
	MergeEntities(s, []EntityMention{{Name: "Redis", Type: "technology"}}, t0)
	MergeEntities(s, []EntityMention{{Name: "redis"}, {Name: "  "}}, t0.Add(time.Minute))

	require.Len(t, s.ActiveEntities, 1)
	assert.Equal(t, 2, s.ActiveEntities[0].MentionCount)
	assert.Equal(t, t0.Add(time.Minute), s.ActiveEntities[0].LastMentioned)

	for i := 0; i < 30; i++ {
		MergeEntities(s, []EntityMention{{Name: fmt.Sprintf("E%d", i)}}, t0.Add(time.Duration(i+2)*time.Minute))
	}
	require.Len(t, s.ActiveEntities, entity.MaxActiveEntities)

	seen := map[string]bool{}
	for _, e := range s.ActiveEntities {
		key := strings.ToLower(e.Name)
		assert.False(t, seen[key], "duplicate entity %s", e.Name)
		seen[key] = true
	}
	assert.False(t, seen["redis"], "oldest entity should have been evicted")
	assert.True(t, seen["e29"])
}

func TestRecentEntityNames(t *testing.T) {
	s := newSession()
	MergeEntities(s, []EntityMention{{Name: "A"}}, t0)
	MergeEntities(s, []EntityMention{{Name: "B"}}, t0.Add(time.Minute))
	MergeEntities(s, []EntityMention{{Name: "A"}}, t0.Add(2*time.Minute))

	assert.Equal(t, []string{"A", "B"}, RecentEntityNames(s, 5))
	assert.Equal(t, []string{"A"}, RecentEntityNames(s, 1))
}
