package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PageSize is the number of messages requested per page.
const PageSize = 50

// ErrPageGap is returned when a page is requested before the pages that
// precede it are loaded.
var ErrPageGap = errors.New("chatsync: page requested out of order")

// pageSet holds the loaded pages of one conversation. pages[0] is the most
// recent page and every page is ordered newest first.
type pageSet struct {
	pages   [][]Message
	hasMore bool
	loading bool
	stale   bool
	gen     int
	// live holds the entries pushed while a load was running.
	live []Message
}

func (ps *pageSet) find(id string) (int, int) {
	if id == "" {
		return -1, -1
	}
	for i, page := range ps.pages {
		for j := range page {
			if page[j].ID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

func (ps *pageSet) drop(id string) bool {
	pi, ei := ps.find(id)
	if pi < 0 {
		return false
	}
	page := ps.pages[pi]
	ps.pages[pi] = append(page[:ei:ei], page[ei+1:]...)
	return true
}

func (ps *pageSet) pushHead(m Message) {
	if len(ps.pages) == 0 {
		ps.pages = [][]Message{nil}
		ps.hasMore = true
		ps.stale = true
	}
	head := make([]Message, 0, len(ps.pages[0])+1)
	head = append(head, m)
	ps.pages[0] = append(head, ps.pages[0]...)
}

// flatten returns the de-duplicated view in ascending chronological order.
func (ps *pageSet) flatten() []Message {
	seen := make(map[string]struct{})
	var out []Message
	for _, page := range ps.pages {
		for _, m := range page {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m.clone())
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// PageStore is the paginated message cache, keyed by conversation id.
type PageStore struct {
	backend  Backend
	profiles *ProfileCache
	notify   Notifier
	log      zerolog.Logger

	mu    sync.Mutex
	convs map[string]*pageSet

	onInvalidate func(conv string)
}

func NewPageStore(backend Backend, profiles *ProfileCache, notify Notifier, log zerolog.Logger) *PageStore {
	if notify == nil {
		notify = Discard
	}
	return &PageStore{
		backend:  backend,
		profiles: profiles,
		notify:   notify,
		log:      log,
		convs:    make(map[string]*pageSet),
	}
}

func (s *PageStore) set(conv string) *pageSet {
	ps, ok := s.convs[conv]
	if !ok {
		ps = &pageSet{hasMore: true}
		s.convs[conv] = ps
	}
	return ps
}

func (s *PageStore) fetch(ctx context.Context, conv string, idx int) ([]Message, error) {
	start := idx * PageSize
	rows, err := s.backend.SelectMessages(ctx, conv, start, start+PageSize-1)
	if err != nil {
		return nil, err
	}
	if len(rows) > PageSize {
		rows = rows[:PageSize]
	}
	senders := make([]string, 0, len(rows))
	for _, m := range rows {
		senders = append(senders, m.SenderID)
	}
	if err := s.profiles.Resolve(ctx, senders); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conv).Msg("sender profiles unavailable")
	}
	for i := range rows {
		rows[i].Sender = s.profiles.Get(rows[i].SenderID)
		if rows[i].Status == "" {
			rows[i].Status = StatusSent
		}
		if rows[i].Kind == "" {
			rows[i].Kind = KindText
		}
		rows[i].Reactions = NormalizeReactions(rows[i].Reactions)
	}
	return rows, nil
}

func (s *PageStore) readFailed(conv string, err error) {
	s.log.Warn().Err(err).Str("conversation_id", conv).Msg("message page load failed")
	s.notify.Notify(Toast{
		Severity: SeverityWarning,
		Title:    "Impossible de charger les messages",
		Detail:   err.Error(),
	})
}

// keepProvisional carries the still-sending local entries of the old head
// page over a freshly fetched one, unless the server already has them.
func keepProvisional(old, fresh []Message) []Message {
	tokens := make(map[string]struct{}, len(fresh))
	for _, m := range fresh {
		if m.ClientToken != "" {
			tokens[m.ClientToken] = struct{}{}
		}
	}
	var kept []Message
	for _, m := range old {
		if !m.Provisional() || m.Status != StatusSending {
			continue
		}
		if _, ok := tokens[m.ClientToken]; ok && m.ClientToken != "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		return fresh
	}
	return append(kept, fresh...)
}

func (s *PageStore) store(ps *pageSet, idx int, rows []Message) {
	page := append([]Message(nil), rows...)
	if idx == 0 && len(ps.pages) > 0 {
		page = keepProvisional(ps.pages[0], page)
	}
	if idx == len(ps.pages) {
		ps.pages = append(ps.pages, page)
	} else {
		ps.pages[idx] = page
	}
	if idx == len(ps.pages)-1 {
		ps.hasMore = len(rows) == PageSize
	}
}

// LoadPage fetches page idx of conv and stores it. Pages must be loaded in
// order; reloading an already loaded index replaces it.
func (s *PageStore) LoadPage(ctx context.Context, conv string, idx int) ([]Message, error) {
	if idx < 0 {
		return nil, fmt.Errorf("load page %d of %s: negative index", idx, conv)
	}
	s.mu.Lock()
	if idx > len(s.set(conv).pages) {
		s.mu.Unlock()
		return nil, fmt.Errorf("load page %d of %s: %w", idx, conv, ErrPageGap)
	}
	s.mu.Unlock()

	rows, err := s.fetch(ctx, conv, idx)
	if err != nil {
		s.readFailed(conv, err)
		return nil, fmt.Errorf("load page %d of %s: %w", idx, conv, err)
	}

	s.mu.Lock()
	ps := s.set(conv)
	if idx > len(ps.pages) {
		s.mu.Unlock()
		return nil, fmt.Errorf("load page %d of %s: %w", idx, conv, ErrPageGap)
	}
	s.store(ps, idx, rows)
	s.mu.Unlock()

	out := make([]Message, len(rows))
	for i := range rows {
		out[i] = rows[i].clone()
	}
	return out, nil
}

// LoadMore loads the next older page. It reports whether a page was added.
// A call made while another load of conv is running returns
// ErrLoadInFlight and leaves the pages untouched.
func (s *PageStore) LoadMore(ctx context.Context, conv string) (bool, error) {
	s.mu.Lock()
	ps := s.set(conv)
	if ps.loading {
		s.mu.Unlock()
		return false, ErrLoadInFlight
	}
	if len(ps.pages) > 0 && !ps.hasMore {
		s.mu.Unlock()
		return false, nil
	}
	ps.loading = true
	idx := len(ps.pages)
	s.mu.Unlock()

	rows, err := s.fetch(ctx, conv, idx)

	s.mu.Lock()
	ps.loading = false
	ps.live = nil
	if err != nil {
		s.mu.Unlock()
		s.readFailed(conv, err)
		return false, fmt.Errorf("load page %d of %s: %w", idx, conv, err)
	}
	if s.convs[conv] != ps || idx != len(ps.pages) {
		s.mu.Unlock()
		return false, nil
	}
	s.store(ps, idx, rows)
	s.mu.Unlock()
	return true, nil
}

// Refresh reloads every loaded page of conv (at least the first one).
func (s *PageStore) Refresh(ctx context.Context, conv string) error {
	s.mu.Lock()
	ps := s.set(conv)
	if ps.loading {
		ps.stale = true
		ps.gen++
		s.mu.Unlock()
		return ErrLoadInFlight
	}
	ps.loading = true
	ps.live = nil
	gen := ps.gen
	n := len(ps.pages)
	if n == 0 {
		n = 1
	}
	s.mu.Unlock()

	fresh := make([][]Message, 0, n)
	var err error
	for i := 0; i < n; i++ {
		rows, ferr := s.fetch(ctx, conv, i)
		if ferr != nil {
			err = ferr
			break
		}
		fresh = append(fresh, rows)
		if len(rows) < PageSize {
			break
		}
	}

	s.mu.Lock()
	ps.loading = false
	live := ps.live
	ps.live = nil
	if err != nil {
		ps.stale = true
		s.mu.Unlock()
		s.readFailed(conv, err)
		return fmt.Errorf("refresh %s: %w", conv, err)
	}
	if s.convs[conv] != ps {
		s.mu.Unlock()
		return nil
	}
	if len(ps.pages) > 0 {
		fresh[0] = keepProvisional(ps.pages[0], fresh[0])
	}
	ps.pages = fresh
	ps.hasMore = len(fresh[len(fresh)-1]) >= PageSize
	for _, m := range live {
		if m.Provisional() {
			continue
		}
		if pi, _ := ps.find(m.ID); pi < 0 {
			ps.pushHead(m)
		}
	}
	ps.stale = ps.gen != gen
	s.mu.Unlock()
	return nil
}

// Ensure loads the first page when nothing is cached and refreshes a stale
// cache.
func (s *PageStore) Ensure(ctx context.Context, conv string) error {
	s.mu.Lock()
	ps, ok := s.convs[conv]
	loaded := ok && len(ps.pages) > 0
	stale := ok && ps.stale
	s.mu.Unlock()
	switch {
	case !loaded:
		_, err := s.LoadMore(ctx, conv)
		return err
	case stale:
		return s.Refresh(ctx, conv)
	}
	return nil
}

// View returns the merged messages of conv in ascending order.
func (s *PageStore) View(conv string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	if !ok {
		return nil
	}
	return ps.flatten()
}

// Count is len(View(conv)).
func (s *PageStore) Count(conv string) int {
	return len(s.View(conv))
}

// Pages reports how many pages of conv are loaded.
func (s *PageStore) Pages(conv string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.convs[conv]; ok {
		return len(ps.pages)
	}
	return 0
}

// HasMore reports whether older pages may exist.
func (s *PageStore) HasMore(conv string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	return !ok || ps.hasMore
}

// Loading reports whether a load of conv is in flight.
func (s *PageStore) Loading(conv string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	return ok && ps.loading
}

// OnInvalidate registers fn to run after a cached conversation is marked
// stale. It must be set before the store is shared.
func (s *PageStore) OnInvalidate(fn func(conv string)) {
	s.onInvalidate = fn
}

// Invalidate marks conv for a full reload on the next Ensure.
func (s *PageStore) Invalidate(conv string) {
	s.mu.Lock()
	ps, ok := s.convs[conv]
	if ok {
		ps.stale = true
		ps.gen++
	}
	s.mu.Unlock()
	if ok && s.onInvalidate != nil {
		s.onInvalidate(conv)
	}
}

// Stale reports whether conv awaits a reload.
func (s *PageStore) Stale(conv string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	return ok && ps.stale
}

// Forget drops every cached page of conv.
func (s *PageStore) Forget(conv string) {
	s.mu.Lock()
	delete(s.convs, conv)
	s.mu.Unlock()
}

// prepend puts m at the head of the most recent page unless its id is
// already cached. It reports whether m was inserted.
func (s *PageStore) prepend(conv string, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.set(conv)
	if pi, _ := ps.find(m.ID); pi >= 0 {
		return false
	}
	ps.pushHead(m.clone())
	if ps.loading {
		ps.live = append(ps.live, m.clone())
	}
	return true
}

// remove drops the entry with id.
func (s *PageStore) remove(conv, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	if !ok {
		return false
	}
	return ps.drop(id)
}

func (s *PageStore) contains(conv, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	if !ok {
		return false
	}
	pi, _ := ps.find(id)
	return pi >= 0
}

// update applies fn to the entry with id in place.
func (s *PageStore) update(conv, id string, fn func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	if !ok {
		return false
	}
	pi, ei := ps.find(id)
	if pi < 0 {
		return false
	}
	fn(&ps.pages[pi][ei])
	return true
}

// matchProvisional finds the oldest sending entry of senderID that a
// confirmation refers to. A non-empty token matches only by token; without
// a token the content is compared.
func (s *PageStore) matchProvisional(conv, senderID, token, content string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.convs[conv]
	if !ok {
		return "", false
	}
	for i := len(ps.pages) - 1; i >= 0; i-- {
		page := ps.pages[i]
		for j := len(page) - 1; j >= 0; j-- {
			m := page[j]
			if !m.Provisional() || m.Status != StatusSending || m.SenderID != senderID {
				continue
			}
			if token != "" {
				if m.ClientToken == token {
					return m.ID, true
				}
				continue
			}
			if m.Content == content {
				return m.ID, true
			}
		}
	}
	return "", false
}

// reconcile collapses the provisional entry and its confirmation into one
// entry carrying the server id. The provisional position is kept when the
// confirmation is not cached yet.
func (s *PageStore) reconcile(conv, provisionalID string, confirmed Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.set(conv)
	ci, cj := ps.find(confirmed.ID)
	ti, tj := ps.find(provisionalID)
	switch {
	case ci >= 0:
		cur := &ps.pages[ci][cj]
		if cur.Status.CanTransition(confirmed.Status) {
			cur.Status = confirmed.Status
		}
		if ti >= 0 {
			ps.drop(provisionalID)
		}
	case ti >= 0:
		ps.pages[ti][tj] = confirmed.clone()
	default:
		ps.pushHead(confirmed.clone())
	}
	if ci < 0 && ps.loading {
		ps.live = append(ps.live, confirmed.clone())
	}
}
