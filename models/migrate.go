package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 自动迁移
func Migrate(db *gorm.DB) error {
	// Empty tokens predate the unique index and would collide in it.
	if db.Migrator().HasTable(&Message{}) {
		if err := db.Model(&Message{}).Where("client_token = ?", "").Update("client_token", nil).Error; err != nil {
			return fmt.Errorf("migrate: clear empty client tokens: %w", err)
		}
	}
	err := db.AutoMigrate(
		&User{},
		&Business{},
		&Conversation{},
		&ConversationParticipant{},
		&Message{},
		&MessageReaction{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return backfillPairKeys(db)
}

func backfillPairKeys(db *gorm.DB) error {
	var convs []Conversation
	err := db.Where("pair_key IS NULL AND type <> ?", ConversationGroup).Find(&convs).Error
	if err != nil {
		return fmt.Errorf("migrate: load conversations: %w", err)
	}
	for _, c := range convs {
		business := ""
		if c.BusinessID != nil {
			business = *c.BusinessID
		}
		key := PairKey(c.ParticipantA, c.ParticipantB, business)
		err := db.Model(&Conversation{}).Where("conversation_id = ?", c.ConversationID).Update("pair_key", key).Error
		if err != nil {
			return fmt.Errorf("migrate: pair key of %s: %w", c.ConversationID, err)
		}
	}
	return nil
}
