package models

import "time"

const (
	RoleAdmin    = "admin"
	RoleMember   = "member"
	RoleBusiness = "business"
	RoleConsumer = "consumer"
)

type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;type:varchar(36)" json:"conversation_id"`
	UserID         string    `gorm:"primaryKey;type:varchar(36);index" json:"user_id"`
	Role           string    `gorm:"type:varchar(16);default:'member'" json:"role"`
	LastReadAt     time.Time `json:"last_read_at"` // 用户最后一次阅读时间
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`

	User User `gorm:"foreignKey:UserID;references:ID" json:"user"`
}
