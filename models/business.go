package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Business is a business page users can contact.
type Business struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   string    `gorm:"type:varchar(36);index;not null" json:"owner_id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	LogoURL   string    `json:"logo_url"`
	Category  string    `gorm:"type:varchar(64)" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Business) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
