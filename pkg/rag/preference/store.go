// Package preference learns how a user likes to be answered from the
// interactions they have, and serves that profile back to the context
// builder.
package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Response length preferences.
const (
	LengthShort    = "short"
	LengthMedium   = "medium"
	LengthDetailed = "detailed"
)

// Preferences is the learned profile of one user.
type Preferences struct {
	UserId                  string         `json:"userId"`
	PreferredResponseLength string         `json:"preferredResponseLength"`
	InteractionCount        int            `json:"interactionCount"`
	AvgQueryLength          float64        `json:"avgQueryLength"`
	AvgResponseLength       float64        `json:"avgResponseLength"`
	BrevityRequests         int            `json:"brevityRequests"`
	DetailRequests          int            `json:"detailRequests"`
	IntentCounts            map[string]int `json:"intentCounts"`
	TopicCounts             map[string]int `json:"topicCounts"`
	FavoriteTopics          []string       `json:"favoriteTopics"`
	UpdatedAt               time.Time      `json:"updatedAt,omitempty"`
}

// Default returns the profile of a user nothing is known about.
func Default(userId string) *Preferences {
	return &Preferences{
		UserId:                  userId,
		PreferredResponseLength: LengthMedium,
		IntentCounts:            map[string]int{},
		TopicCounts:             map[string]int{},
		FavoriteTopics:          []string{},
	}
}

// Store persists preference profiles. Update applies fn atomically with
// respect to other updates of the same user.
type Store interface {
	GetPreferences(ctx context.Context, userId string) (*Preferences, error)
	Update(ctx context.Context, userId string, fn func(p *Preferences)) (*Preferences, error)
}

const (
	keyPrefix   = "preferences:"
	dataField   = "data"
	maxTxnRetry = 10
)

// RedisStore keeps each profile as a hash whose data field holds the JSON
// document.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func key(userId string) string {
	return keyPrefix + userId
}

func (s *RedisStore) GetPreferences(ctx context.Context, userId string) (*Preferences, error) {
	return s.read(ctx, s.rdb, userId)
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c hashGetter, userId string) (*Preferences, error) {
	raw, err := c.HGet(ctx, key(userId), dataField).Result()
	if errors.Is(err, redis.Nil) {
		return Default(userId), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	return decode(userId, raw)
}

func decode(userId, raw string) (*Preferences, error) {
	p := Default(userId)
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if p.IntentCounts == nil {
		p.IntentCounts = map[string]int{}
	}
	if p.TopicCounts == nil {
		p.TopicCounts = map[string]int{}
	}
	if p.FavoriteTopics == nil {
		p.FavoriteTopics = []string{}
	}
	return p, nil
}

// Update runs an optimistic WATCH/MULTI transaction, retrying when another
// writer touched the key in between.
func (s *RedisStore) Update(ctx context.Context, userId string, fn func(p *Preferences)) (*Preferences, error) {
	k := key(userId)
	var updated *Preferences

	txf := func(tx *redis.Tx) error {
		p, err := s.read(ctx, tx, userId)
		if err != nil {
			return err
		}
		fn(p)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, dataField, data)
			return nil
		})
		if err == nil {
			updated = p
		}
		return err
	}

	for i := 0; i < maxTxnRetry; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return nil, fmt.Errorf("update preferences: %w", redis.TxFailedErr)
}
