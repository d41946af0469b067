package chatsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Listener merges the pushes of one conversation into the page store.
type Listener struct {
	session   Session
	conv      string
	pages     *PageStore
	profiles  *ProfileCache
	directory *Directory
	log       zerolog.Logger
	onChange  func()

	sub       Subscription
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// ListenerConfig carries the collaborators of a Listener.
type ListenerConfig struct {
	Session   Session
	Pages     *PageStore
	Profiles  *ProfileCache
	Directory *Directory
	Logger    zerolog.Logger
	// OnChange runs on the listener goroutine after every event that
	// modified the cached view.
	OnChange func()
}

// Listen subscribes to conv and processes its events in delivery order on
// a single goroutine until Close is called or the subscription ends.
func Listen(ctx context.Context, ch Channel, conv string, cfg ListenerConfig) (*Listener, error) {
	sub, err := ch.Subscribe(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", conv, err)
	}
	l := newListener(conv, cfg)
	l.sub = sub
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	go l.run(runCtx)
	return l, nil
}

func newListener(conv string, cfg ListenerConfig) *Listener {
	return &Listener{
		session:   cfg.Session,
		conv:      conv,
		pages:     cfg.Pages,
		profiles:  cfg.Profiles,
		directory: cfg.Directory,
		log:       cfg.Logger.With().Str("conversation_id", conv).Logger(),
		onChange:  cfg.OnChange,
		done:      make(chan struct{}),
	}
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	events := l.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				l.log.Debug().Msg("subscription ended")
				return
			}
			if l.apply(ctx, ev) && l.onChange != nil {
				l.onChange()
			}
		}
	}
}

// apply merges one event and reports whether the cached view changed.
func (l *Listener) apply(ctx context.Context, ev Event) bool {
	rec := ev.Record
	if rec.ConversationID == "" {
		rec.ConversationID = ev.ConversationID
	}
	if rec.ConversationID != l.conv || rec.ID == "" {
		return false
	}
	switch ev.Type {
	case EventInsert:
		return l.insert(ctx, rec)
	case EventUpdate:
		return l.patch(rec)
	default:
		l.log.Debug().Str("type", string(ev.Type)).Msg("ignoring event")
		return false
	}
}

func (l *Listener) insert(ctx context.Context, rec Message) bool {
	if rec.Status == "" || rec.Status == StatusSending {
		rec.Status = StatusSent
	}
	if rec.Kind == "" {
		rec.Kind = KindText
	}
	rec.Reactions = NormalizeReactions(rec.Reactions)

	own := rec.SenderID == l.session.UserID
	if own {
		if tempID, ok := l.pages.matchProvisional(l.conv, rec.SenderID, rec.ClientToken, rec.Content); ok {
			rec.Sender = l.session.Profile
			l.pages.reconcile(l.conv, tempID, rec)
			return true
		}
	}
	if l.pages.contains(l.conv, rec.ID) {
		return false
	}

	if own {
		rec.Sender = l.session.Profile
	} else {
		if err := l.profiles.Resolve(ctx, []string{rec.SenderID}); err != nil {
			l.log.Warn().Err(err).Str("sender_id", rec.SenderID).Msg("sender profile unavailable")
		}
		rec.Sender = l.profiles.Get(rec.SenderID)
	}
	if !l.pages.prepend(l.conv, rec) {
		return false
	}
	if !own {
		l.directory.Invalidate()
	}
	return true
}

func (l *Listener) patch(rec Message) bool {
	found := l.pages.update(l.conv, rec.ID, func(m *Message) {
		if m.Status.CanTransition(rec.Status) {
			m.Status = rec.Status
		}
		m.Reactions = NormalizeReactions(rec.Reactions)
	})
	if !found {
		// Not reconcilable locally: reload on next sync.
		l.pages.Invalidate(l.conv)
		return false
	}
	return true
}

// Conversation returns the id the listener is attached to.
func (l *Listener) Conversation() string { return l.conv }

// Done is closed once the listener goroutine has exited.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Close releases the subscription and waits for the goroutine to exit.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		if l.sub != nil {
			err = l.sub.Close()
		}
		<-l.done
	})
	return err
}
