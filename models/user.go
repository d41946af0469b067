package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 用户模型
type User struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username    string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password    string         `gorm:"not null" json:"-"`
	DisplayName string         `gorm:"type:varchar(128)" json:"display_name"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	AvatarURL   string         `json:"avatar_url"`
	Status      string         `gorm:"type:varchar(16);default:'offline'" json:"status"`
	LastLogin   *time.Time     `gorm:"default:NULL" json:"last_login"`
	Bio         string         `json:"bio"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Name is the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
