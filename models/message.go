package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);index:idx_messages_conv_created,priority:1;uniqueIndex:idx_messages_client_token,priority:1;not null" json:"conversation_id"`
	SenderID       string    `gorm:"type:varchar(36);index;uniqueIndex:idx_messages_client_token,priority:2;not null" json:"sender_id"`
	ClientToken    *string   `gorm:"type:varchar(64);uniqueIndex:idx_messages_client_token,priority:3" json:"client_token"` // nil when the sender gave none
	Content        string    `gorm:"type:text" json:"content"`
	Kind           string    `gorm:"type:varchar(16);default:'text'" json:"kind"` // text, image, file...
	Status         string    `gorm:"type:varchar(16);default:'sent'" json:"status"`
	AttachmentURL  string    `json:"attachment_url"`
	AttachmentType string    `gorm:"type:varchar(64)" json:"attachment_type"`
	AttachmentName string    `json:"attachment_name"`
	AttachmentSize int64     `json:"attachment_size"`
	ReplyToID      string    `gorm:"type:varchar(36)" json:"reply_to_id"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`

	Reactions []MessageReaction `gorm:"foreignKey:MessageID;references:ID" json:"reactions"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// MessageReaction is one user's reaction with one symbol.
type MessageReaction struct {
	MessageID string    `gorm:"primaryKey;type:varchar(36)" json:"message_id"`
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	Symbol    string    `gorm:"primaryKey;type:varchar(32)" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}
