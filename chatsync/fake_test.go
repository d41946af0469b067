package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var errOffline = errors.New("network unreachable")

// fakeBackend is an in-memory Backend that publishes inserts on its hub the
// way the real service does.
type fakeBackend struct {
	mu       sync.Mutex
	clock    time.Time
	seq      int
	profiles map[string]Profile
	convs    map[string]*Conversation
	messages map[string][]Message
	lastRead map[string]map[string]time.Time
	hub      *fakeHub

	insertErr  error
	insertGate chan struct{}
	selectErr  error
	selectGate chan struct{}
	listErr    error
	readErr    error

	selects        int
	profileBatches [][]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		clock:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		profiles: make(map[string]Profile),
		convs:    make(map[string]*Conversation),
		messages: make(map[string][]Message),
		lastRead: make(map[string]map[string]time.Time),
		hub:      newFakeHub(),
	}
}

func (b *fakeBackend) tick() time.Time {
	b.clock = b.clock.Add(time.Second)
	return b.clock
}

func (b *fakeBackend) addUser(id, name string) {
	b.mu.Lock()
	b.profiles[id] = Profile{ID: id, DisplayName: name}
	b.mu.Unlock()
}

func (b *fakeBackend) addConversation(id string, typ ConversationType, users ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := b.tick()
	c := &Conversation{ID: id, Type: typ, UpdatedAt: at}
	b.lastRead[id] = make(map[string]time.Time)
	for _, u := range users {
		c.Participants = append(c.Participants, Participant{ConversationID: id, UserID: u, Role: RoleMember, JoinedAt: at, LastReadAt: at})
		b.lastRead[id][u] = at
	}
	b.convs[id] = c
}

// seed stores n messages from sender without publishing them.
func (b *fakeBackend) seed(conv, sender string, n int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for i := 0; i < n; i++ {
		b.seq++
		m := Message{
			ID:             fmt.Sprintf("m-%03d", b.seq),
			ConversationID: conv,
			SenderID:       sender,
			Content:        fmt.Sprintf("message %d", b.seq),
			Kind:           KindText,
			Status:         StatusSent,
			CreatedAt:      b.tick(),
		}
		b.messages[conv] = append(b.messages[conv], m)
		out = append(out, m)
	}
	b.convs[conv].UpdatedAt = b.clock
	return out
}

func (b *fakeBackend) SelectConversationsForUser(_ context.Context, userID string) ([]Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []Conversation
	for id, c := range b.convs {
		member := false
		for _, p := range c.Participants {
			if p.UserID == userID {
				member = true
			}
		}
		if !member {
			continue
		}
		cp := *c
		cp.Participants = append([]Participant(nil), c.Participants...)
		for i := range cp.Participants {
			cp.Participants[i].LastReadAt = b.lastRead[id][cp.Participants[i].UserID]
		}
		msgs := b.messages[id]
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			cp.LastMessage = &last
		}
		mark := b.lastRead[id][userID]
		for _, m := range msgs {
			if m.SenderID != userID && m.CreatedAt.After(mark) {
				cp.UnreadCount++
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) SelectMessages(ctx context.Context, conv string, start, end int) ([]Message, error) {
	b.mu.Lock()
	gate := b.selectGate
	b.selects++
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selectErr != nil {
		return nil, b.selectErr
	}
	msgs := b.messages[conv]
	var desc []Message
	for i := len(msgs) - 1; i >= 0; i-- {
		desc = append(desc, msgs[i])
	}
	if start >= len(desc) {
		return []Message{}, nil
	}
	if end+1 < len(desc) {
		desc = desc[:end+1]
	}
	return append([]Message(nil), desc[start:]...), nil
}

func (b *fakeBackend) InsertMessage(ctx context.Context, in NewMessage) (Message, error) {
	b.mu.Lock()
	gate := b.insertGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
	b.mu.Lock()
	if b.insertErr != nil {
		err := b.insertErr
		b.mu.Unlock()
		return Message{}, err
	}
	b.seq++
	m := Message{
		ID:             fmt.Sprintf("m-%03d", b.seq),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ClientToken:    in.ClientToken,
		Content:        in.Content,
		Kind:           in.Kind,
		Status:         StatusSent,
		CreatedAt:      b.tick(),
		Attachment:     in.Attachment,
		ReplyTo:        in.ReplyTo,
	}
	b.messages[in.ConversationID] = append(b.messages[in.ConversationID], m)
	if c, ok := b.convs[in.ConversationID]; ok {
		c.UpdatedAt = m.CreatedAt
	}
	b.mu.Unlock()
	b.hub.publish(Event{Type: EventInsert, ConversationID: m.ConversationID, Record: m})
	return m, nil
}

func (b *fakeBackend) UpdateConversationTimestamp(_ context.Context, conv string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.convs[conv]; ok {
		c.UpdatedAt = b.tick()
	}
	return nil
}

func (b *fakeBackend) UpdateLastRead(_ context.Context, conv, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return b.readErr
	}
	if b.lastRead[conv] == nil {
		b.lastRead[conv] = make(map[string]time.Time)
	}
	b.lastRead[conv][userID] = b.tick()
	return nil
}

func (b *fakeBackend) ResolveProfiles(_ context.Context, ids []string) (map[string]Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profileBatches = append(b.profileBatches, append([]string(nil), ids...))
	out := make(map[string]Profile)
	for _, id := range ids {
		if p, ok := b.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (b *fakeBackend) StartConversation(_ context.Context, userID, receiverID, businessID string) (string, error) {
	b.mu.Lock()
	for id, c := range b.convs {
		if len(c.Participants) != 2 {
			continue
		}
		a, r := c.Participants[0].UserID, c.Participants[1].UserID
		sameBusiness := (c.Business == nil && businessID == "") || (c.Business != nil && c.Business.ID == businessID)
		if sameBusiness && ((a == userID && r == receiverID) || (a == receiverID && r == userID)) {
			b.mu.Unlock()
			return id, nil
		}
	}
	id := fmt.Sprintf("c-%d", len(b.convs)+1)
	b.mu.Unlock()

	typ := ConversationPrivate
	if businessID != "" {
		typ = ConversationBusiness
	}
	b.addConversation(id, typ, userID, receiverID)
	if businessID != "" {
		b.mu.Lock()
		b.convs[id].Business = &BusinessContext{ID: businessID, Name: b.profiles[receiverID].DisplayName}
		b.mu.Unlock()
	}
	return id, nil
}

func (b *fakeBackend) ToggleReaction(_ context.Context, messageID, userID, symbol string) (Message, error) {
	b.mu.Lock()
	var out Message
	found := false
	for conv, msgs := range b.messages {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			m := &b.messages[conv][i]
			if m.Reactions == nil {
				m.Reactions = map[string][]string{}
			}
			users := m.Reactions[symbol]
			kept := users[:0:0]
			removed := false
			for _, u := range users {
				if u == userID {
					removed = true
					continue
				}
				kept = append(kept, u)
			}
			if !removed {
				kept = append(kept, userID)
			}
			m.Reactions[symbol] = kept
			out = m.clone()
			found = true
		}
	}
	b.mu.Unlock()
	if !found {
		return Message{}, fmt.Errorf("message %s not found", messageID)
	}
	b.hub.publish(Event{Type: EventUpdate, ConversationID: out.ConversationID, Record: out})
	return out, nil
}

func (b *fakeBackend) batches() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.profileBatches...)
}

// fakeHub fans events out to subscriptions per conversation.
type fakeHub struct {
	mu   sync.Mutex
	subs map[string]map[*fakeSub]struct{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{subs: make(map[string]map[*fakeSub]struct{})}
}

func (h *fakeHub) Subscribe(_ context.Context, conv string) (Subscription, error) {
	s := &fakeSub{hub: h, conv: conv, ch: make(chan Event, 64)}
	h.mu.Lock()
	if h.subs[conv] == nil {
		h.subs[conv] = make(map[*fakeSub]struct{})
	}
	h.subs[conv][s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

func (h *fakeHub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.ConversationID] {
		s.ch <- ev
	}
}

func (h *fakeHub) count(conv string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conv])
}

type fakeSub struct {
	hub  *fakeHub
	conv string
	ch   chan Event
	once sync.Once
}

func (s *fakeSub) Events() <-chan Event { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.conv], s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// toasts records notifications.
type toasts struct {
	mu   sync.Mutex
	list []Toast
}

func (t *toasts) Notify(x Toast) {
	t.mu.Lock()
	t.list = append(t.list, x)
	t.mu.Unlock()
}

func (t *toasts) all() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast(nil), t.list...)
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
