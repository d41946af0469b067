package models

import (
	"sort"
	"strings"
	"time"
)

const (
	ConversationPrivate  = "private"
	ConversationGroup    = "group"
	ConversationBusiness = "business"
)

type Conversation struct {
	ConversationID string     `gorm:"primaryKey;type:varchar(36)" json:"conversation_id"`
	Type           string     `gorm:"type:varchar(10);index" json:"type"` // private, group or business
	Title          string     `gorm:"type:varchar(128)" json:"title"`
	ParticipantA   string     `gorm:"type:varchar(36);index" json:"participant_a"` // private and business only
	ParticipantB   string     `gorm:"type:varchar(36);index" json:"participant_b"`
	BusinessID     *string    `gorm:"type:varchar(36);index" json:"business_id"`
	PairKey        *string    `gorm:"type:varchar(110);uniqueIndex" json:"-"` // nil for groups
	LastMessageID  string     `gorm:"type:varchar(36)" json:"last_message_id"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"index" json:"updated_at"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;references:ConversationID" json:"participants"`
	Business     *Business                 `gorm:"foreignKey:BusinessID;references:ID" json:"business,omitempty"`
}

// PairKey identifies the one conversation two users share, per business
// context. The order of a and b does not matter.
func PairKey(a, b, businessID string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(append(ids, businessID), "|")
}
