// Package state holds the conversation phase machine and the bookkeeping
// rules for topic history and entity memory. Every function here is pure
// with respect to its inputs: the clock is passed in.
package state

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"ai-context-pipeline/internal/entity"
)

// Intent is the label an upstream classifier assigns to a user turn.
type Intent string

const (
	IntentChitchat      Intent = "chitchat"
	IntentClarification Intent = "clarification"
	IntentComparison    Intent = "comparison"
	IntentProcedural    Intent = "procedural"
	IntentExplanation   Intent = "explanation"
	IntentFactual       Intent = "factual"
)

// IdleAfter is the inactivity window after which a session drops to idle.
const IdleAfter = 30 * time.Minute

var closingPattern = regexp.MustCompile(`(?i)\b(thanks|thank you|thx|bye|goodbye|see you|that'?s all|that is all|that'?s it|done for now|cheers)\b`)

// Turn is the input of one phase evaluation.
type Turn struct {
	Intent Intent
	Query  string
}

// EntityMention is an entity observed in the latest turn.
type EntityMention struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type"`
}

// DeterminePhase evaluates the transition rules in priority order and
// returns the phase of the first rule that fires. The bool is false when no
// rule fires or the phase would not change.
func DeterminePhase(s *entity.ConversationSession, turn Turn, now time.Time) (entity.ConversationPhase, bool) {
	next, ok := matchRule(s, turn, now)
	if !ok || next == s.CurrentPhase {
		return s.CurrentPhase, false
	}
	return next, true
}

func matchRule(s *entity.ConversationSession, turn Turn, now time.Time) (entity.ConversationPhase, bool) {
	messageCount := s.Metrics.TotalMessages
	topicCount := s.CurrentTopic.MessageCount

	switch {
	case messageCount <= 2 && turn.Intent == IntentChitchat:
		return entity.PhaseGreeting, true
	case turn.Intent == IntentClarification:
		return entity.PhaseClarifying, true
	case turn.Intent == IntentComparison:
		return entity.PhaseComparing, true
	case turn.Intent == IntentProcedural || (turn.Intent == IntentExplanation && topicCount > 3):
		return entity.PhaseProblemSolving, true
	case topicCount >= 3 && (turn.Intent == IntentFactual || turn.Intent == IntentExplanation):
		return entity.PhaseFocused, true
	case s.Metrics.TopicChanges > 2 && topicCount < 3:
		return entity.PhaseExploring, true
	case turn.Intent == IntentChitchat && messageCount > 5 && closingPattern.MatchString(turn.Query):
		return entity.PhaseConcluding, true
	case !s.LastActivityAt.IsZero() && now.Sub(s.LastActivityAt) > IdleAfter:
		return entity.PhaseIdle, true
	}
	return "", false
}

// Transition closes the current phase entry with its rounded duration and
// pushes a new one.
func Transition(s *entity.ConversationSession, phase entity.ConversationPhase, now time.Time) {
	if n := len(s.PhaseHistory); n > 0 {
		last := &s.PhaseHistory[n-1]
		last.DurationSeconds = int64(math.Round(now.Sub(last.EnteredAt).Seconds()))
	}
	s.CurrentPhase = phase
	s.PhaseHistory = append(s.PhaseHistory, entity.PhaseEntry{Phase: phase, EnteredAt: now})
	if over := len(s.PhaseHistory) - entity.MaxPhaseHistory; over > 0 {
		s.PhaseHistory = append([]entity.PhaseEntry(nil), s.PhaseHistory[over:]...)
	}
}

// Advance runs DeterminePhase and applies the result. A clarification turn
// always counts toward clarificationRequests.
func Advance(s *entity.ConversationSession, turn Turn, now time.Time) bool {
	if turn.Intent == IntentClarification {
		s.Metrics.ClarificationRequests++
	}
	next, changed := DeterminePhase(s, turn, now)
	if changed {
		Transition(s, next, now)
	}
	return changed
}

// HandleTopicChange archives the current topic when the incoming one differs
// and reports the shift that was recorded.
func HandleTopicChange(s *entity.ConversationSession, topic string, now time.Time) entity.TopicShift {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return entity.ShiftNone
	}
	if s.CurrentTopic.Name == "" {
		s.CurrentTopic = entity.CurrentTopic{Name: topic, StartedAt: now, Entities: []string{}}
		return entity.ShiftNone
	}
	if strings.EqualFold(s.CurrentTopic.Name, topic) {
		return entity.ShiftNone
	}

	shift := entity.ShiftComplete
	for _, past := range s.TopicHistory {
		if strings.EqualFold(past.Name, topic) {
			shift = entity.ShiftReturn
			break
		}
	}

	s.TopicHistory = append(s.TopicHistory, entity.TopicEntry{
		Name:         s.CurrentTopic.Name,
		StartedAt:    s.CurrentTopic.StartedAt,
		EndedAt:      now,
		MessageCount: s.CurrentTopic.MessageCount,
		ShiftType:    shift,
	})
	if over := len(s.TopicHistory) - entity.MaxTopicHistory; over > 0 {
		s.TopicHistory = append([]entity.TopicEntry(nil), s.TopicHistory[over:]...)
	}

	s.CurrentTopic = entity.CurrentTopic{Name: topic, StartedAt: now, Entities: []string{}}
	s.Metrics.TopicChanges++
	return shift
}

// MergeEntities folds mentions into the active entity list. Names match
// case-insensitively; when the list overflows, the least recently
// mentioned entries are dropped.
func MergeEntities(s *entity.ConversationSession, mentions []EntityMention, now time.Time) {
	for _, m := range mentions {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		merged := false
		for i := range s.ActiveEntities {
			if strings.EqualFold(s.ActiveEntities[i].Name, name) {
				s.ActiveEntities[i].LastMentioned = now
				s.ActiveEntities[i].MentionCount++
				merged = true
				break
			}
		}
		if !merged {
			s.ActiveEntities = append(s.ActiveEntities, entity.ActiveEntity{
				Name:           name,
				Type:           m.Type,
				FirstMentioned: now,
				LastMentioned:  now,
				MentionCount:   1,
			})
		}
		if s.CurrentTopic.Name != "" && !containsFold(s.CurrentTopic.Entities, name) {
			s.CurrentTopic.Entities = append(s.CurrentTopic.Entities, name)
		}
	}

	if len(s.ActiveEntities) > entity.MaxActiveEntities {
		sort.SliceStable(s.ActiveEntities, func(i, j int) bool {
			return s.ActiveEntities[i].LastMentioned.After(s.ActiveEntities[j].LastMentioned)
		})
		s.ActiveEntities = s.ActiveEntities[:entity.MaxActiveEntities]
	}
}

// RecentEntityNames returns up to n names, most recently mentioned first.
func RecentEntityNames(s *entity.ConversationSession, n int) []string {
	sorted := append([]entity.ActiveEntity(nil), s.ActiveEntities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastMentioned.After(sorted[j].LastMentioned)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.Name
	}
	return names
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
