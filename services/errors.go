package services

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNotParticipant     = errors.New("not a participant of this conversation")
	ErrSelfConversation   = errors.New("cannot create a conversation with yourself")
	ErrInvalidRange       = errors.New("invalid message range")
	ErrEmptyMessage       = errors.New("message has no content")
	ErrInvalidKind        = errors.New("unknown message kind")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidInput       = errors.New("invalid input")
)

// Now is the clock of the service layer.
var Now = func() time.Time { return time.Now().UTC() }
