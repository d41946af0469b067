package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"consogab/config"
	"consogab/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetOrCreateConversation 获取或创建会话
//
// It returns the private conversation between userID and receiverID, or
// their business conversation when businessID is set, creating it on first
// contact. created reports whether a new row was written.
func GetOrCreateConversation(ctx context.Context, userID, receiverID, businessID string) (conv models.Conversation, created bool, err error) {
	if userID == receiverID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	db := config.DB.WithContext(ctx)
	if _, err := GetUser(ctx, receiverID); err != nil {
		return models.Conversation{}, false, fmt.Errorf("receiver %s: %w", receiverID, err)
	}

	var business *models.Business
	if businessID != "" {
		var b models.Business
		if err := db.Where("id = ?", businessID).First(&b).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.Conversation{}, false, fmt.Errorf("business %s: %w", businessID, ErrNotFound)
			}
			return models.Conversation{}, false, fmt.Errorf("lookup business: %w", err)
		}
		if b.OwnerID != receiverID {
			return models.Conversation{}, false, fmt.Errorf("%w: business %s is not owned by the receiver", ErrInvalidInput, businessID)
		}
		business = &b
	}

	key := models.PairKey(userID, receiverID, businessID)
	existing, found, err := conversationByPair(db, key)
	if err != nil {
		return models.Conversation{}, false, err
	}
	if found {
		return existing, false, nil
	}

	now := Now()
	conv = models.Conversation{
		ConversationID: uuid.NewString(),
		Type:           models.ConversationPrivate,
		ParticipantA:   userID,
		ParticipantB:   receiverID,
		PairKey:        &key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	roleA, roleB := models.RoleMember, models.RoleMember
	if business != nil {
		conv.Type = models.ConversationBusiness
		conv.BusinessID = &business.ID
		roleA, roleB = models.RoleConsumer, models.RoleBusiness
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		return tx.Create([]models.ConversationParticipant{
			{ConversationID: conv.ConversationID, UserID: userID, Role: roleA, JoinedAt: now, LastReadAt: now},
			{ConversationID: conv.ConversationID, UserID: receiverID, Role: roleB, JoinedAt: now, LastReadAt: now},
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// The other side made first contact at the same time.
		existing, found, lerr := conversationByPair(db, key)
		if lerr != nil {
			return models.Conversation{}, false, lerr
		}
		if found {
			return existing, false, nil
		}
	}
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

func conversationByPair(db *gorm.DB, key string) (models.Conversation, bool, error) {
	var c models.Conversation
	err := db.Where("pair_key = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("lookup conversation: %w", err)
	}
	return c, true, nil
}

// CreateGroupConversation creates a titled conversation owned by ownerID.
func CreateGroupConversation(ctx context.Context, ownerID, title string, memberIDs []string) (models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Conversation{}, fmt.Errorf("%w: group title is empty", ErrInvalidInput)
	}
	members := uniqueIDs(append([]string{ownerID}, memberIDs...))
	if len(members) < 2 {
		return models.Conversation{}, fmt.Errorf("%w: a group needs at least one other member", ErrInvalidInput)
	}
	profiles, err := ResolveProfiles(ctx, members)
	if err != nil {
		return models.Conversation{}, err
	}
	for _, id := range members {
		if _, ok := profiles[id]; !ok {
			return models.Conversation{}, fmt.Errorf("member %s: %w", id, ErrNotFound)
		}
	}

	now := Now()
	conv := models.Conversation{
		ConversationID: uuid.NewString(),
		Type:           models.ConversationGroup,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	rows := make([]models.ConversationParticipant, 0, len(members))
	for _, id := range members {
		role := models.RoleMember
		if id == ownerID {
			role = models.RoleAdmin
		}
		rows = append(rows, models.ConversationParticipant{ConversationID: conv.ConversationID, UserID: id, Role: role, JoinedAt: now, LastReadAt: now})
	}
	err = config.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		return tx.Create(rows).Error
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create group: %w", err)
	}
	return conv, nil
}

// RequireParticipant returns ErrNotFound for an unknown conversation and
// ErrNotParticipant when userID is not one of its members.
func RequireParticipant(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" {
		return ErrNotFound
	}
	db := config.DB.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Conversation{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error; err != nil {
		return fmt.Errorf("lookup participant: %w", err)
	}
	if n == 0 {
		return ErrNotParticipant
	}
	return nil
}

type unreadRow struct {
	ConversationID string
	Unread         int
}

// ListConversations returns the conversations of userID, most recently
// updated first, with participants, business context, last message and the
// caller's unread count.
func ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	db := config.DB.WithContext(ctx)
	var ids []string
	if err := db.Model(&models.ConversationParticipant{}).Where("user_id = ?", userID).Pluck("conversation_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]ConversationView, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var convs []models.Conversation
	err := db.Preload("Participants.User").Preload("Business").
		Where("conversation_id IN ?", ids).
		Order("updated_at DESC").Order("conversation_id").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var lastIDs []string
	for _, c := range convs {
		if c.LastMessageID != "" {
			lastIDs = append(lastIDs, c.LastMessageID)
		}
	}
	last := make(map[string]models.Message, len(lastIDs))
	if len(lastIDs) > 0 {
		var msgs []models.Message
		if err := db.Preload("Reactions").Where("id IN ?", lastIDs).Find(&msgs).Error; err != nil {
			return nil, fmt.Errorf("load last messages: %w", err)
		}
		for _, m := range msgs {
			last[m.ID] = m
		}
	}

	var unread []unreadRow
	err = db.Table("messages AS m").
		Select("m.conversation_id AS conversation_id, COUNT(*) AS unread").
		Joins("JOIN conversation_participants AS p ON p.conversation_id = m.conversation_id AND p.user_id = ?", userID).
		Where("m.sender_id <> ? AND m.created_at > p.last_read_at", userID).
		Group("m.conversation_id").
		Scan(&unread).Error
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	counts := make(map[string]int, len(unread))
	for _, r := range unread {
		counts[r.ConversationID] = r.Unread
	}

	for _, c := range convs {
		v := conversationView(c)
		if m, ok := last[c.LastMessageID]; ok {
			mv := messageView(m)
			v.LastMessage = &mv
		}
		v.UnreadCount = counts[c.ConversationID]
		out = append(out, v)
	}
	return out, nil
}

// GetConversation returns one conversation as seen by userID.
func GetConversation(ctx context.Context, conversationID, userID string) (ConversationView, error) {
	if err := RequireParticipant(ctx, conversationID, userID); err != nil {
		return ConversationView{}, err
	}
	all, err := ListConversations(ctx, userID)
	if err != nil {
		return ConversationView{}, err
	}
	for _, c := range all {
		if c.ID == conversationID {
			return c, nil
		}
	}
	return ConversationView{}, ErrNotFound
}

// TouchConversation bumps updated_at so the conversation sorts first.
func TouchConversation(ctx context.Context, conversationID string) error {
	res := config.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Update("updated_at", Now())
	if res.Error != nil {
		return fmt.Errorf("touch conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
