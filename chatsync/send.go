package chatsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Draft is what the composer submits.
type Draft struct {
	Content    string
	Kind       Kind
	Attachment *Attachment
	ReplyTo    string
}

// Sender runs the optimistic send pipeline.
type Sender struct {
	session   Session
	backend   Backend
	pages     *PageStore
	directory *Directory
	notify    Notifier
	log       zerolog.Logger
	now       func() time.Time
}

func NewSender(session Session, backend Backend, pages *PageStore, directory *Directory, notify Notifier, log zerolog.Logger) *Sender {
	if notify == nil {
		notify = Discard
	}
	return &Sender{
		session:   session,
		backend:   backend,
		pages:     pages,
		directory: directory,
		notify:    notify,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Pending is a provisional message between Begin and Commit.
type Pending struct {
	s    *Sender
	conv string

	mu   sync.Mutex
	msg  Message
	done bool
}

// Message returns the current state of the pending entry.
func (p *Pending) Message() Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msg.clone()
}

// Begin builds the provisional message and inserts it at the head of the
// most recent page before returning. No network call is made.
func (s *Sender) Begin(conv string, d Draft) (*Pending, error) {
	content := strings.TrimSpace(d.Content)
	if content == "" && d.Attachment == nil {
		return nil, ErrEmptyMessage
	}
	kind := d.Kind
	if kind == "" {
		kind = KindText
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	msg := Message{
		ID:             tempPrefix + uuid.NewString(),
		ConversationID: conv,
		SenderID:       s.session.UserID,
		ClientToken:    uuid.NewString(),
		Content:        content,
		Kind:           kind,
		Status:         StatusSending,
		CreatedAt:      s.now(),
		Attachment:     d.Attachment,
		ReplyTo:        d.ReplyTo,
		Sender:         s.session.Profile,
	}
	msg = msg.clone()
	s.pages.prepend(conv, msg)
	return &Pending{s: s, conv: conv, msg: msg}, nil
}

// Commit issues the remote write. On success the provisional entry is
// promoted in place and the page store and directory are invalidated. On
// failure the entry is removed, an error toast is emitted and the error is
// returned.
func (p *Pending) Commit(ctx context.Context) (Message, error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return Message{}, fmt.Errorf("send message: already committed")
	}
	p.done = true
	draft := p.msg
	p.mu.Unlock()

	s := p.s
	saved, err := s.backend.InsertMessage(ctx, NewMessage{
		ConversationID: p.conv,
		SenderID:       draft.SenderID,
		ClientToken:    draft.ClientToken,
		Content:        draft.Content,
		Kind:           draft.Kind,
		Attachment:     draft.Attachment,
		ReplyTo:        draft.ReplyTo,
	})
	if err != nil {
		s.pages.remove(p.conv, draft.ID)
		p.mu.Lock()
		p.msg.Status = StatusFailed
		p.mu.Unlock()
		s.log.Error().Err(err).Str("conversation_id", p.conv).Msg("send failed, provisional message rolled back")
		s.notify.Notify(Toast{
			Severity: SeverityError,
			Title:    "Échec de l'envoi du message",
			Detail:   err.Error(),
		})
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	confirmed := saved.clone()
	if confirmed.ClientToken == "" {
		confirmed.ClientToken = draft.ClientToken
	}
	if confirmed.Status == "" || confirmed.Status == StatusSending {
		confirmed.Status = StatusSent
	}
	if confirmed.Kind == "" {
		confirmed.Kind = draft.Kind
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = draft.CreatedAt
	}
	confirmed.ConversationID = p.conv
	confirmed.SenderID = draft.SenderID
	confirmed.Sender = s.session.Profile
	s.pages.reconcile(p.conv, draft.ID, confirmed)

	if err := s.backend.UpdateConversationTimestamp(ctx, p.conv); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", p.conv).Msg("conversation timestamp not bumped")
	}
	s.pages.Invalidate(p.conv)
	s.directory.Invalidate()

	p.mu.Lock()
	p.msg = confirmed
	p.mu.Unlock()
	return confirmed.clone(), nil
}

// Send is Begin followed by Commit.
func (s *Sender) Send(ctx context.Context, conv string, d Draft) (Message, error) {
	p, err := s.Begin(conv, d)
	if err != nil {
		return Message{}, err
	}
	return p.Commit(ctx)
}
