// Package chatsync keeps a client's view of conversations and messages
// consistent while optimistic sends, realtime pushes and paginated fetches
// interleave.
package chatsync

import (
	"context"
	"errors"
)

var (
	// ErrLoadInFlight is returned when a page load is requested while
	// another one for the same conversation has not finished.
	ErrLoadInFlight = errors.New("chatsync: page load already in flight")
	// ErrEmptyMessage rejects drafts without content or attachment.
	ErrEmptyMessage = errors.New("chatsync: empty message")
	// ErrNotLoaded is returned for operations on a conversation whose
	// pages were never loaded.
	ErrNotLoaded = errors.New("chatsync: conversation not loaded")
	// ErrClosed is returned by an ActiveConversation after Close.
	ErrClosed = errors.New("chatsync: conversation closed")
)

// NewMessage is the payload of a remote insert.
type NewMessage struct {
	ConversationID string
	SenderID       string
	ClientToken    string
	Content        string
	Kind           Kind
	Attachment     *Attachment
	ReplyTo        string
}

// Backend is the relational query/write service.
type Backend interface {
	SelectConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)
	// SelectMessages returns rows start..end inclusive, newest first.
	SelectMessages(ctx context.Context, conversationID string, start, end int) ([]Message, error)
	InsertMessage(ctx context.Context, in NewMessage) (Message, error)
	UpdateConversationTimestamp(ctx context.Context, conversationID string) error
	UpdateLastRead(ctx context.Context, conversationID, userID string) error
	ResolveProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
	// StartConversation returns the id of the conversation between userID
	// and receiverID, creating it on first contact. businessID may be empty.
	StartConversation(ctx context.Context, userID, receiverID, businessID string) (string, error)
	ToggleReaction(ctx context.Context, messageID, userID, symbol string) (Message, error)
}

// EventType names the kind of row change pushed on a channel.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// Event is one push delivered for a conversation.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Record         Message   `json:"record"`
}

// Channel opens push subscriptions, one per conversation.
type Channel interface {
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

// Subscription delivers events in channel order until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}
