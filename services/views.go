package services

import (
	"sort"
	"time"

	"consogab/models"
)

// ProfileView is the public part of a user.
type ProfileView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type BusinessView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LogoURL  string `json:"logo_url,omitempty"`
	Category string `json:"category,omitempty"`
}

type ParticipantView struct {
	UserID     string      `json:"user_id"`
	Role       string      `json:"role"`
	JoinedAt   time.Time   `json:"joined_at"`
	LastReadAt time.Time   `json:"last_read_at"`
	Profile    ProfileView `json:"profile"`
}

type AttachmentView struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// MessageView is the wire shape of a message row, also used as the record
// of realtime frames.
type MessageView struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	ClientToken    string              `json:"client_token,omitempty"`
	Content        string              `json:"content"`
	Kind           string              `json:"kind"`
	Status         string              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	Attachment     *AttachmentView     `json:"attachment,omitempty"`
	ReplyTo        string              `json:"reply_to,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
}

type ConversationView struct {
	ID           string            `json:"id"`
	Title        string            `json:"title,omitempty"`
	Type         string            `json:"type"`
	Participants []ParticipantView `json:"participants"`
	LastMessage  *MessageView      `json:"last_message,omitempty"`
	UnreadCount  int               `json:"unread_count"`
	Business     *BusinessView     `json:"business,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func profileView(u models.User) ProfileView {
	return ProfileView{ID: u.ID, DisplayName: u.Name(), AvatarURL: u.AvatarURL}
}

func messageView(m models.Message) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Kind:           m.Kind,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt.UTC(),
		ReplyTo:        m.ReplyToID,
	}
	if m.ClientToken != nil {
		v.ClientToken = *m.ClientToken
	}
	if m.AttachmentURL != "" {
		v.Attachment = &AttachmentView{
			URL:  m.AttachmentURL,
			Type: m.AttachmentType,
			Name: m.AttachmentName,
			Size: m.AttachmentSize,
		}
	}
	if len(m.Reactions) > 0 {
		v.Reactions = make(map[string][]string)
		for _, r := range m.Reactions {
			v.Reactions[r.Symbol] = append(v.Reactions[r.Symbol], r.UserID)
		}
		for _, users := range v.Reactions {
			sort.Strings(users)
		}
	}
	return v
}

func conversationView(c models.Conversation) ConversationView {
	v := ConversationView{
		ID:           c.ConversationID,
		Title:        c.Title,
		Type:         c.Type,
		Participants: make([]ParticipantView, 0, len(c.Participants)),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	for _, p := range c.Participants {
		profile := profileView(p.User)
		profile.ID = p.UserID
		v.Participants = append(v.Participants, ParticipantView{
			UserID:     p.UserID,
			Role:       p.Role,
			JoinedAt:   p.JoinedAt.UTC(),
			LastReadAt: p.LastReadAt.UTC(),
			Profile:    profile,
		})
	}
	if c.Business != nil {
		v.Business = &BusinessView{
			ID:       c.Business.ID,
			Name:     c.Business.Name,
			LogoURL:  c.Business.LogoURL,
			Category: c.Business.Category,
		}
	}
	return v
}
