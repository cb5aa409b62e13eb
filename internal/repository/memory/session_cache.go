package memory

import (
	"ai-context-pipeline/internal/entity"

	"github.com/patrickmn/go-cache"
)

// SessionCache is the process-local view of conversation sessions. Entries
// do not expire; they are evicted explicitly when a session ends or is swept.
// Stored values are clones, so callers never share state through the cache.
type SessionCache struct {
	cache *cache.Cache
}

func NewSessionCache() *SessionCache {
	return &SessionCache{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *SessionCache) Save(session *entity.ConversationSession) {
	r.cache.Set(session.ConversationId, session.Clone(), cache.NoExpiration)
}

func (r *SessionCache) Get(conversationId string) (*entity.ConversationSession, bool) {
	if x, found := r.cache.Get(conversationId); found {
		return x.(*entity.ConversationSession).Clone(), true
	}
	return nil, false
}

func (r *SessionCache) Delete(conversationId string) {
	r.cache.Delete(conversationId)
}

func (r *SessionCache) Len() int {
	return r.cache.ItemCount()
}
