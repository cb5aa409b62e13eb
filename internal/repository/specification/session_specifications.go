package specification

import (
	"time"

	"gorm.io/gorm"
)

type ByConversationID struct {
	ConversationID string
}

func (s ByConversationID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("conversation_id = ?", s.ConversationID)
}

// ActiveSessions keeps sessions that were not deactivated
type ActiveSessions struct{}

func (s ActiveSessions) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ?", true)
}

// LastActivityBefore matches sessions idle since Cutoff
type LastActivityBefore struct {
	Cutoff time.Time
}

func (s LastActivityBefore) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("last_activity_at < ?", s.Cutoff)
}
