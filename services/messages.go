package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consogab/config"
	"consogab/logger"
	"consogab/models"

	"gorm.io/gorm"
)

// MaxPageSize caps one message range request.
const MaxPageSize = 100

var messageKinds = map[string]bool{
	"text": true, "image": true, "file": true, "audio": true,
	"video": true, "location": true, "document": true, "system": true,
}

// NewMessageInput is the body of a send.
type NewMessageInput struct {
	Content     string          `json:"content"`
	Kind        string          `json:"kind"`
	ClientToken string          `json:"client_token"`
	Attachment  *AttachmentView `json:"attachment"`
	ReplyTo     string          `json:"reply_to"`
}

// ListMessages 获取会话的消息列表
//
// It returns the rows start..end (inclusive) of the conversation ordered
// newest first.
func ListMessages(ctx context.Context, conversationID string, start, end int) ([]MessageView, error) {
	if start < 0 || end < start {
		return nil, ErrInvalidRange
	}
	limit := end - start + 1
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	var msgs []models.Message
	err := config.DB.WithContext(ctx).Preload("Reactions").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Order("id DESC").
		Offset(start).Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m))
	}
	return out, nil
}

// InsertMessage 发送消息
//
// The row is stored, the conversation's last message and updated_at are
// bumped in the same transaction, then an INSERT frame is published. A
// repeated client token returns the row stored the first time.
func InsertMessage(ctx context.Context, conversationID, senderID string, in NewMessageInput) (MessageView, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Kind == "" {
		in.Kind = "text"
	}
	if !messageKinds[in.Kind] {
		return MessageView{}, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	if in.Content == "" && (in.Attachment == nil || in.Attachment.URL == "") {
		return MessageView{}, ErrEmptyMessage
	}
	db := config.DB.WithContext(ctx)

	var token *string
	if in.ClientToken != "" {
		token = &in.ClientToken
		dup, found, err := messageByToken(db, conversationID, senderID, in.ClientToken)
		if err != nil {
			return MessageView{}, err
		}
		if found {
			return messageView(dup), nil
		}
	}

	now := Now()
	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		ClientToken:    token,
		Content:        in.Content,
		Kind:           in.Kind,
		Status:         models.StatusSent,
		ReplyToID:      in.ReplyTo,
		CreatedAt:      now,
	}
	if a := in.Attachment; a != nil {
		msg.AttachmentURL = a.URL
		msg.AttachmentType = a.Type
		msg.AttachmentName = a.Name
		msg.AttachmentSize = a.Size
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		// 更新会话列表排序
		return tx.Model(&models.Conversation{}).
			Where("conversation_id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_message_id": msg.ID,
				"last_message_at": now,
				"updated_at":      now,
			}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && token != nil {
		// A concurrent retry with the same token stored its row first.
		dup, found, lerr := messageByToken(db, conversationID, senderID, in.ClientToken)
		if lerr != nil {
			return MessageView{}, lerr
		}
		if found {
			return messageView(dup), nil
		}
	}
	if err != nil {
		return MessageView{}, fmt.Errorf("insert message: %w", err)
	}
	messagesInserted.WithLabelValues(msg.Kind).Inc()

	view := messageView(msg)
	Manager.PublishMessage(FrameInsert, view)
	return view, nil
}

func messageByToken(db *gorm.DB, conversationID, senderID, token string) (models.Message, bool, error) {
	var m models.Message
	err := db.Preload("Reactions").
		Where("conversation_id = ? AND sender_id = ? AND client_token = ?", conversationID, senderID, token).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("lookup client token: %w", err)
	}
	return m, true, nil
}

// MarkRead 更新已读
//
// It moves the reader's last_read_at to now and flips the other senders'
// sent or delivered messages to read, publishing an UPDATE per row.
func MarkRead(ctx context.Context, conversationID, userID string) error {
	now := Now()
	var changed []models.Message
	err := config.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Update("last_read_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotParticipant
		}
		q := tx.Where("conversation_id = ? AND sender_id <> ? AND status IN ?", conversationID, userID,
			[]string{models.StatusSent, models.StatusDelivered})
		if err := q.Preload("Reactions").Find(&changed).Error; err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		ids := make([]string, len(changed))
		for i := range changed {
			ids[i] = changed[i].ID
			changed[i].Status = models.StatusRead
		}
		return tx.Model(&models.Message{}).Where("id IN ?", ids).Update("status", models.StatusRead).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotParticipant) {
			return err
		}
		return fmt.Errorf("mark read: %w", err)
	}
	for _, m := range changed {
		Manager.PublishMessage(FrameUpdate, messageView(m))
	}
	if len(changed) > 0 {
		logger.With("messages").Debug().Str("conversation_id", conversationID).Int("count", len(changed)).Msg("messages marked read")
	}
	return nil
}

// ToggleReaction adds userID's symbol reaction to the message, or removes
// it when present, and publishes the updated row.
func ToggleReaction(ctx context.Context, messageID, userID, symbol string) (MessageView, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return MessageView{}, fmt.Errorf("%w: reaction symbol is empty", ErrInvalidInput)
	}
	db := config.DB.WithContext(ctx)
	var msg models.Message
	if err := db.Where("id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MessageView{}, ErrNotFound
		}
		return MessageView{}, fmt.Errorf("lookup message: %w", err)
	}
	if err := RequireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return MessageView{}, err
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		key := models.MessageReaction{MessageID: messageID, UserID: userID, Symbol: symbol}
		res := tx.Where(&key).Delete(&models.MessageReaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		key.CreatedAt = Now()
		return tx.Create(&key).Error
	})
	if err != nil {
		return MessageView{}, fmt.Errorf("toggle reaction: %w", err)
	}

	if err := db.Preload("Reactions").Where("id = ?", messageID).First(&msg).Error; err != nil {
		return MessageView{}, fmt.Errorf("reload message: %w", err)
	}
	view := messageView(msg)
	Manager.PublishMessage(FrameUpdate, view)
	return view, nil
}
