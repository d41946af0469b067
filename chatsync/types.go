package chatsync

import (
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// FallbackName is shown when a sender profile cannot be resolved.
const FallbackName = "Utilisateur"

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusSending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether a message in status s may move to next.
// failed is only reachable from sending.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Profile is the display snapshot of a user.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Name returns the display name, or FallbackName when empty.
func (p Profile) Name() string {
	if strings.TrimSpace(p.DisplayName) == "" {
		return FallbackName
	}
	return p.DisplayName
}

// Initials returns up to two upper-case initials of the display name.
func (p Profile) Initials() string {
	var b strings.Builder
	words := strings.Fields(p.Name())
	if len(words) > 2 {
		words = words[:2]
	}
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Attachment references an uploaded object. Upload itself happens elsewhere.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is one entry of a conversation as seen by the client.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	ClientToken    string              `json:"client_token,omitempty"`
	Content        string              `json:"content"`
	Kind           Kind                `json:"kind"`
	Status         Status              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	Attachment     *Attachment         `json:"attachment,omitempty"`
	ReplyTo        string              `json:"reply_to,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
	Sender         Profile             `json:"sender"`
}

const tempPrefix = "temp-"

// Provisional reports whether m is a local optimistic entry not yet
// acknowledged by the server.
func (m Message) Provisional() bool {
	return strings.HasPrefix(m.ID, tempPrefix)
}

func (m Message) clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.Reactions != nil {
		r := make(map[string][]string, len(m.Reactions))
		for sym, users := range m.Reactions {
			r[sym] = append([]string(nil), users...)
		}
		m.Reactions = r
	}
	return m
}

// NormalizeReactions drops empty symbols and returns every reactor set
// sorted and de-duplicated.
func NormalizeReactions(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for sym, users := range in {
		seen := make(map[string]struct{}, len(users))
		set := make([]string, 0, len(users))
		for _, u := range users {
			if _, ok := seen[u]; ok || u == "" {
				continue
			}
			seen[u] = struct{}{}
			set = append(set, u)
		}
		if len(set) == 0 {
			continue
		}
		sort.Strings(set)
		out[sym] = set
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationPrivate  ConversationType = "private"
	ConversationGroup    ConversationType = "group"
	ConversationBusiness ConversationType = "business"
)

// Role of a participant inside a conversation.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleBusiness Role = "business"
	RoleConsumer Role = "consumer"
)

// Participant links a user to a conversation.
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	LastReadAt     time.Time `json:"last_read_at"`
	JoinedAt       time.Time `json:"joined_at"`
	Profile        Profile   `json:"profile"`
}

// BusinessContext is attached to conversations opened from a business page.
type BusinessContext struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LogoURL  string `json:"logo_url,omitempty"`
	Category string `json:"category,omitempty"`
}

// Conversation is a directory entry.
type Conversation struct {
	ID           string           `json:"id"`
	Title        string           `json:"title,omitempty"`
	Type         ConversationType `json:"type"`
	Participants []Participant    `json:"participants"`
	LastMessage  *Message         `json:"last_message,omitempty"`
	UnreadCount  int              `json:"unread_count"`
	Business     *BusinessContext `json:"business,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DisplayTitle derives the title shown to viewerID: the explicit title,
// else the business name, else the other participant's display name.
func (c Conversation) DisplayTitle(viewerID string) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	if c.Business != nil && c.Business.Name != "" {
		return c.Business.Name
	}
	for _, p := range c.Participants {
		if p.UserID != viewerID {
			return p.Profile.Name()
		}
	}
	return FallbackName
}

// LastActivity is the sort key of the directory.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

// Session identifies the viewer. It is passed explicitly to every component.
type Session struct {
	UserID  string
	Profile Profile
}
