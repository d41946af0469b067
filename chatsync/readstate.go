package chatsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ReadState keeps the viewer's last-read marker current for the active
// conversation.
type ReadState struct {
	session   Session
	backend   Backend
	directory *Directory
	log       zerolog.Logger

	mu      sync.Mutex
	counts  map[string]int
	pending map[string]bool
}

func NewReadState(session Session, backend Backend, directory *Directory, log zerolog.Logger) *ReadState {
	return &ReadState{
		session:   session,
		backend:   backend,
		directory: directory,
		log:       log,
		counts:    make(map[string]int),
		pending:   make(map[string]bool),
	}
}

// MarkRead moves the viewer's marker of conv to now. A failure is logged
// and the conversation stays pending so the next trigger retries.
func (r *ReadState) MarkRead(ctx context.Context, conv string) error {
	if err := r.backend.UpdateLastRead(ctx, conv, r.session.UserID); err != nil {
		r.mu.Lock()
		r.pending[conv] = true
		r.mu.Unlock()
		r.log.Warn().Err(err).Str("conversation_id", conv).Msg("mark read failed, will retry")
		return fmt.Errorf("mark %s read: %w", conv, err)
	}
	r.mu.Lock()
	delete(r.pending, conv)
	r.mu.Unlock()
	r.directory.clearUnread(conv)
	r.directory.Invalidate()
	return nil
}

// Observe records the visible message count of the active conversation and
// marks it read when the count changed or a previous attempt failed.
func (r *ReadState) Observe(ctx context.Context, conv string, count int) error {
	r.mu.Lock()
	prev, seen := r.counts[conv]
	retry := r.pending[conv]
	r.counts[conv] = count
	r.mu.Unlock()
	if seen && prev == count && !retry {
		return nil
	}
	return r.MarkRead(ctx, conv)
}

// Forget drops the tracked count of conv, e.g. when it stops being active.
func (r *ReadState) Forget(conv string) {
	r.mu.Lock()
	delete(r.counts, conv)
	r.mu.Unlock()
}

// Pending reports whether conv has an unconfirmed mark-read.
func (r *ReadState) Pending(conv string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[conv]
}
