package chatsync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Directory caches the viewer's conversation list.
type Directory struct {
	session  Session
	backend  Backend
	profiles *ProfileCache
	notify   Notifier
	log      zerolog.Logger

	mu     sync.Mutex
	items  []Conversation
	loaded bool
	stale  bool
	gen    int
}

func NewDirectory(session Session, backend Backend, profiles *ProfileCache, notify Notifier, log zerolog.Logger) *Directory {
	if notify == nil {
		notify = Discard
	}
	return &Directory{
		session:  session,
		backend:  backend,
		profiles: profiles,
		notify:   notify,
		log:      log,
	}
}

// List returns the conversations ordered by most recent activity. The
// cached listing is served until Invalidate is called.
//
// On failure the last good listing (or an empty slice) is returned together
// with the error, and a warning toast is emitted. An empty result with a nil
// error means the viewer has no conversations.
func (d *Directory) List(ctx context.Context) ([]Conversation, error) {
	d.mu.Lock()
	if d.loaded && !d.stale {
		out := cloneConversations(d.items)
		d.mu.Unlock()
		return out, nil
	}
	gen := d.gen
	d.mu.Unlock()

	convs, err := d.backend.SelectConversationsForUser(ctx, d.session.UserID)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", d.session.UserID).Msg("conversation list unavailable")
		d.notify.Notify(Toast{
			Severity: SeverityWarning,
			Title:    "Impossible de charger vos conversations",
			Detail:   err.Error(),
		})
		d.mu.Lock()
		out := cloneConversations(d.items)
		d.mu.Unlock()
		if out == nil {
			out = []Conversation{}
		}
		return out, fmt.Errorf("list conversations: %w", err)
	}

	d.enrich(ctx, convs)
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastActivity().After(convs[j].LastActivity())
	})

	d.mu.Lock()
	d.items = convs
	d.loaded = true
	// An Invalidate during the fetch keeps the listing stale.
	d.stale = d.gen != gen
	out := cloneConversations(d.items)
	d.mu.Unlock()
	return out, nil
}

// enrich resolves every participant and last-message sender in one batch.
func (d *Directory) enrich(ctx context.Context, convs []Conversation) {
	var ids []string
	for _, c := range convs {
		for _, p := range c.Participants {
			ids = append(ids, p.UserID)
		}
		if c.LastMessage != nil {
			ids = append(ids, c.LastMessage.SenderID)
		}
	}
	if err := d.profiles.Resolve(ctx, ids); err != nil {
		d.log.Warn().Err(err).Msg("participant profiles unavailable")
	}
	for i := range convs {
		c := &convs[i]
		for j := range c.Participants {
			c.Participants[j].Profile = d.profiles.Get(c.Participants[j].UserID)
		}
		if c.LastMessage != nil {
			c.LastMessage.Sender = d.profiles.Get(c.LastMessage.SenderID)
			if c.LastMessage.Status == "" {
				c.LastMessage.Status = StatusSent
			}
		}
		c.Title = c.DisplayTitle(d.session.UserID)
	}
}

// Refresh drops the cached listing and fetches it again.
func (d *Directory) Refresh(ctx context.Context) ([]Conversation, error) {
	d.Invalidate()
	return d.List(ctx)
}

// Invalidate marks the listing stale so unread counts and previews are
// refetched on the next List.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.stale = true
	d.gen++
	d.mu.Unlock()
}

// Stale reports whether the next List goes to the backend.
func (d *Directory) Stale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.loaded || d.stale
}

// Get returns the cached entry for id.
func (d *Directory) Get(id string) (Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.items {
		if c.ID == id {
			return cloneConversations([]Conversation{c})[0], true
		}
	}
	return Conversation{}, false
}

// Unread returns the cached unread count of id.
func (d *Directory) Unread(id string) int {
	c, _ := d.Get(id)
	return c.UnreadCount
}

// clearUnread zeroes the cached unread count of id.
func (d *Directory) clearUnread(id string) {
	d.mu.Lock()
	for i := range d.items {
		if d.items[i].ID == id {
			d.items[i].UnreadCount = 0
		}
	}
	d.mu.Unlock()
}

func cloneConversations(in []Conversation) []Conversation {
	if in == nil {
		return nil
	}
	out := make([]Conversation, len(in))
	for i, c := range in {
		c.Participants = append([]Participant(nil), c.Participants...)
		if c.LastMessage != nil {
			m := c.LastMessage.clone()
			c.LastMessage = &m
		}
		if c.Business != nil {
			b := *c.Business
			c.Business = &b
		}
		out[i] = c
	}
	return out
}
