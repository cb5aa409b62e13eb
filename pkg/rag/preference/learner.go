package preference

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/events"
)

const (
	logModule         = "PREFERENCE"
	favoriteTopicsMax = 5
)

var (
	brevityPattern = regexp.MustCompile(`(?i)\b(briefly|brief|short(ly)?|in short|concise(ly)?|tl;?dr|summari[sz]e|one sentence|quick(ly)?)\b`)
	detailPattern  = regexp.MustCompile(`(?i)\b(in detail|detailed|elaborate|step[- ]by[- ]step|thorough(ly)?|in depth|explain fully|more detail)\b`)
)

// EventPublisher is satisfied by the NATS publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Interaction is the slice of an exchange the learner looks at.
type Interaction struct {
	UserId            string
	ConversationId    string
	WorkspaceId       string
	UserQuery         string
	AssistantResponse string
	Intent            string
	Topic             string
}

type Learner struct {
	store     Store
	publisher EventPublisher
	logger    logger.ILogger
	now       func() time.Time
}

// NewLearner builds a learner. publisher may be nil.
func NewLearner(store Store, publisher EventPublisher, log logger.ILogger) *Learner {
	return &Learner{
		store:     store,
		publisher: publisher,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Learn folds one interaction into the user's profile and announces it on
// the event bus. A failed publish is logged, not returned.
func (l *Learner) Learn(ctx context.Context, in Interaction) (*Preferences, error) {
	now := l.now()
	queryLen := utf8.RuneCountInString(in.UserQuery)
	responseLen := utf8.RuneCountInString(in.AssistantResponse)

	p, err := l.store.Update(ctx, in.UserId, func(p *Preferences) {
		apply(p, in, queryLen, responseLen, now)
	})
	if err != nil {
		return nil, err
	}

	if l.publisher != nil {
		event := events.InteractionRecorded{
			ConversationId: in.ConversationId,
			UserId:         in.UserId,
			WorkspaceId:    in.WorkspaceId,
			Intent:         in.Intent,
			Topic:          in.Topic,
			QueryLength:    queryLen,
			ResponseLength: responseLen,
			OccurredAt:     now,
		}
		if err := l.publisher.Publish(ctx, event); err != nil {
			l.logger.Warn(logModule, "Failed to publish interaction event", map[string]interface{}{
				"user_id": in.UserId,
				"error":   err.Error(),
			})
		}
	}
	return p, nil
}

func apply(p *Preferences, in Interaction, queryLen, responseLen int, now time.Time) {
	p.InteractionCount++
	n := float64(p.InteractionCount)
	p.AvgQueryLength += (float64(queryLen) - p.AvgQueryLength) / n
	p.AvgResponseLength += (float64(responseLen) - p.AvgResponseLength) / n

	if brevityPattern.MatchString(in.UserQuery) {
		p.BrevityRequests++
	}
	if detailPattern.MatchString(in.UserQuery) {
		p.DetailRequests++
	}
	p.PreferredResponseLength = preferredLength(p.BrevityRequests, p.DetailRequests)

	if in.Intent != "" {
		p.IntentCounts[in.Intent]++
	}
	if topic := strings.ToLower(strings.TrimSpace(in.Topic)); topic != "" {
		p.TopicCounts[topic]++
		p.FavoriteTopics = topTopics(p.TopicCounts, favoriteTopicsMax)
	}
	p.UpdatedAt = now
}

func preferredLength(brevity, detail int) string {
	switch {
	case brevity > detail:
		return LengthShort
	case detail > brevity:
		return LengthDetailed
	default:
		return LengthMedium
	}
}

func topTopics(counts map[string]int, n int) []string {
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > n {
		topics = topics[:n]
	}
	return topics
}
