package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Options configures a Client.
type Options struct {
	Backend  Backend
	Channel  Channel
	Notifier Notifier
	Logger   *zerolog.Logger
}

// Client is the messaging core of one signed-in session.
type Client struct {
	session Session
	backend Backend
	channel Channel
	notify  Notifier
	log     zerolog.Logger

	Profiles  *ProfileCache
	Directory *Directory
	Pages     *PageStore
	Sender    *Sender
	ReadState *ReadState

	mu     sync.Mutex
	active *ActiveConversation
}

func New(session Session, opts Options) (*Client, error) {
	if session.UserID == "" {
		return nil, errors.New("chatsync: session without user id")
	}
	if opts.Backend == nil {
		return nil, errors.New("chatsync: nil backend")
	}
	if opts.Channel == nil {
		return nil, errors.New("chatsync: nil channel")
	}
	notify := opts.Notifier
	if notify == nil {
		notify = Discard
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	log = log.With().Str("user_id", session.UserID).Logger()
	if session.Profile.ID == "" {
		session.Profile.ID = session.UserID
	}

	c := &Client{
		session: session,
		backend: opts.Backend,
		channel: opts.Channel,
		notify:  notify,
		log:     log,
	}
	c.Profiles = NewProfileCache(opts.Backend)
	c.Profiles.Put(session.Profile)
	c.Directory = NewDirectory(session, opts.Backend, c.Profiles, notify, log)
	c.Pages = NewPageStore(opts.Backend, c.Profiles, notify, log)
	c.Sender = NewSender(session, opts.Backend, c.Pages, c.Directory, notify, log)
	c.ReadState = NewReadState(session, opts.Backend, c.Directory, log)
	c.Pages.OnInvalidate(c.pagesInvalidated)
	return c, nil
}

// pagesInvalidated reloads the active conversation in the background when
// its pages go stale.
func (c *Client) pagesInvalidated(conv string) {
	a := c.Active()
	if a == nil || a.id != conv || a.isClosed() {
		return
	}
	go a.resync()
}

// Session returns the viewer.
func (c *Client) Session() Session { return c.session }

// Conversations lists the viewer's conversations.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	return c.Directory.List(ctx)
}

// Start returns the conversation with receiverID, creating it on first
// contact. businessID ties it to a business page and may be empty.
func (c *Client) Start(ctx context.Context, receiverID, businessID string) (string, error) {
	id, err := c.backend.StartConversation(ctx, c.session.UserID, receiverID, businessID)
	if err != nil {
		c.notify.Notify(Toast{
			Severity: SeverityError,
			Title:    "Impossible de démarrer la conversation",
			Detail:   err.Error(),
		})
		return "", fmt.Errorf("start conversation with %s: %w", receiverID, err)
	}
	c.Directory.Invalidate()
	return id, nil
}

// Open makes conv the active conversation: the first page is loaded, the
// realtime listener attached and the conversation marked read. The
// previously active conversation is closed first.
func (c *Client) Open(ctx context.Context, conv string) (*ActiveConversation, error) {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			c.log.Warn().Err(err).Str("conversation_id", prev.id).Msg("closing previous conversation")
		}
	}

	a := &ActiveConversation{c: c, id: conv}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := c.Pages.Ensure(ctx, conv); err != nil {
		// Degrades to whatever is cached; the listener still attaches.
		c.log.Warn().Err(err).Str("conversation_id", conv).Msg("initial page unavailable")
	}
	l, err := Listen(ctx, c.channel, conv, ListenerConfig{
		Session:   c.session,
		Pages:     c.Pages,
		Profiles:  c.Profiles,
		Directory: c.Directory,
		Logger:    c.log,
		OnChange:  a.changed,
	})
	if err != nil {
		a.cancel()
		return nil, err
	}
	a.listener = l
	// A view that could not be reloaded is not marked read.
	if !c.Pages.Stale(conv) {
		_ = c.ReadState.Observe(ctx, conv, c.Pages.Count(conv))
	}

	c.mu.Lock()
	c.active = a
	c.mu.Unlock()
	return a, nil
}

// Active returns the currently open conversation, if any.
func (c *Client) Active() *ActiveConversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close tears down the active conversation.
func (c *Client) Close() error {
	c.mu.Lock()
	a := c.active
	c.active = nil
	c.mu.Unlock()
	if a == nil {
		return nil
	}
	return a.Close()
}

// ActiveConversation is the conversation currently on screen.
type ActiveConversation struct {
	c        *Client
	id       string
	listener *Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool

	syncMu sync.Mutex
}

func (a *ActiveConversation) ID() string { return a.id }

// Messages returns the merged view in ascending order.
func (a *ActiveConversation) Messages() []Message {
	return a.c.Pages.View(a.id)
}

// HasMore reports whether older pages may exist.
func (a *ActiveConversation) HasMore() bool {
	return a.c.Pages.HasMore(a.id)
}

func (a *ActiveConversation) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// changed runs after realtime merges.
func (a *ActiveConversation) changed() {
	if a.isClosed() {
		return
	}
	_ = a.c.ReadState.Observe(a.ctx, a.id, a.c.Pages.Count(a.id))
}

// LoadMore requests the next older page unless one is already loading.
func (a *ActiveConversation) LoadMore(ctx context.Context) (bool, error) {
	if a.isClosed() {
		return false, ErrClosed
	}
	return a.c.Pages.LoadMore(ctx, a.id)
}

// Begin inserts a provisional message without touching the network.
func (a *ActiveConversation) Begin(d Draft) (*Pending, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	return a.c.Sender.Begin(a.id, d)
}

// Send runs the full optimistic pipeline.
func (a *ActiveConversation) Send(ctx context.Context, d Draft) (Message, error) {
	p, err := a.Begin(d)
	if err != nil {
		return Message{}, err
	}
	m, err := p.Commit(ctx)
	if err != nil {
		return Message{}, err
	}
	a.changed()
	return m, nil
}

// Sync reloads the pages when they were invalidated.
func (a *ActiveConversation) Sync(ctx context.Context) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	if a.isClosed() {
		return ErrClosed
	}
	if !a.c.Pages.Stale(a.id) {
		return nil
	}
	if err := a.c.Pages.Refresh(ctx, a.id); err != nil {
		return err
	}
	a.changed()
	return nil
}

func (a *ActiveConversation) resync() {
	err := a.Sync(a.ctx)
	if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, ErrLoadInFlight) {
		return
	}
	a.c.log.Warn().Err(err).Str("conversation_id", a.id).Msg("background reload failed")
}

// React toggles symbol on messageID for the viewer.
func (a *ActiveConversation) React(ctx context.Context, messageID, symbol string) error {
	if a.isClosed() {
		return ErrClosed
	}
	m, err := a.c.backend.ToggleReaction(ctx, messageID, a.c.session.UserID, symbol)
	if err != nil {
		a.c.notify.Notify(Toast{Severity: SeverityWarning, Title: "Réaction non enregistrée", Detail: err.Error()})
		return fmt.Errorf("toggle reaction on %s: %w", messageID, err)
	}
	a.c.Pages.update(a.id, messageID, func(cur *Message) {
		cur.Reactions = NormalizeReactions(m.Reactions)
	})
	return nil
}

// Close releases the realtime subscription.
func (a *ActiveConversation) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	a.c.ReadState.Forget(a.id)
	// Nothing merges realtime rows once the listener is gone.
	a.c.Pages.Invalidate(a.id)
	a.c.mu.Lock()
	if a.c.active == a {
		a.c.active = nil
	}
	a.c.mu.Unlock()
	return a.listener.Close()
}
