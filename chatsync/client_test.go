package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, b *fakeBackend, userID string) (*Client, *toasts) {
	t.Helper()
	n := &toasts{}
	c, err := New(Session{UserID: userID, Profile: b.profiles[userID]}, Options{
		Backend:  b,
		Channel:  b.hub,
		Notifier: n,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, n
}

func TestNewValidatesOptions(t *testing.T) {
	b := newFakeBackend()
	_, err := New(Session{}, Options{Backend: b, Channel: b.hub})
	assert.Error(t, err)
	_, err = New(Session{UserID: "me"}, Options{Channel: b.hub})
	assert.Error(t, err)
	_, err = New(Session{UserID: "me"}, Options{Backend: b})
	assert.Error(t, err)
}

func TestTwoClientsExchangeMessage(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addUser("b", "Jean")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	ctx := context.Background()

	alice, _ := newTestClient(t, b, "a")
	bob, _ := newTestClient(t, b, "b")

	conv, err := alice.Open(ctx, "c1")
	require.NoError(t, err)
	sent, err := conv.Send(ctx, Draft{Content: "Bonjour"})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status)

	list, err := bob.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "Bonjour", list[0].LastMessage.Content)
	assert.Equal(t, "Awa", list[0].Title)

	bobConv, err := bob.Open(ctx, "c1")
	require.NoError(t, err)
	msgs := bobConv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Bonjour", msgs[0].Content)
	assert.Equal(t, "Awa", msgs[0].Sender.Name())

	list, err = bob.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)

	// A reply reaches the open conversation through the listener.
	_, err = bobConv.Send(ctx, Draft{Content: "Salut Awa"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(conv.Messages()) == 2 }, time.Second, time.Millisecond)
	reply := conv.Messages()[1]
	assert.Equal(t, "Salut Awa", reply.Content)
	assert.Equal(t, "Jean", reply.Sender.Name())

	// Alice had the conversation open: her marker follows.
	require.Eventually(t, func() bool {
		list, err := alice.Conversations(ctx)
		return err == nil && len(list) == 1 && list[0].UnreadCount == 0
	}, time.Second, time.Millisecond)
}

func TestOpenSwitchesListener(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	b.addConversation("c2", ConversationPrivate, "a", "c")
	ctx := context.Background()
	alice, _ := newTestClient(t, b, "a")

	first, err := alice.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.hub.count("c1"))

	second, err := alice.Open(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 0, b.hub.count("c1"))
	assert.Equal(t, 1, b.hub.count("c2"))
	assert.Same(t, second, alice.Active())

	_, err = first.Send(ctx, Draft{Content: "trop tard"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = first.LoadMore(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, alice.Close())
	assert.Nil(t, alice.Active())
	assert.Equal(t, 0, b.hub.count("c2"))
}

func TestSendFailureThroughClient(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	b.seed("c1", "b", 1)
	ctx := context.Background()
	alice, n := newTestClient(t, b, "a")

	conv, err := alice.Open(ctx, "c1")
	require.NoError(t, err)
	b.mu.Lock()
	b.insertErr = errOffline
	b.mu.Unlock()

	_, err = conv.Send(ctx, Draft{Content: "Bonjour"})
	require.ErrorIs(t, err, errOffline)
	assert.Len(t, conv.Messages(), 1)
	require.Len(t, n.all(), 1)
	assert.Equal(t, SeverityError, n.all()[0].Severity)
}

func TestStartAndReact(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addUser("shop", "Boulangerie Akanda")
	ctx := context.Background()
	alice, _ := newTestClient(t, b, "a")

	id, err := alice.Start(ctx, "shop", "b-1")
	require.NoError(t, err)
	list, err := alice.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Boulangerie Akanda", list[0].Title)

	conv, err := alice.Open(ctx, id)
	require.NoError(t, err)
	m, err := conv.Send(ctx, Draft{Content: "Une baguette"})
	require.NoError(t, err)

	require.NoError(t, conv.React(ctx, m.ID, "👍"))
	got := conv.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, map[string][]string{"👍": {"a"}}, got[0].Reactions)

	assert.Error(t, conv.React(ctx, "missing", "👍"))
}

func TestSyncReloadsStalePages(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	b.seed("c1", "b", 2)
	ctx := context.Background()
	alice, _ := newTestClient(t, b, "a")

	conv, err := alice.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, conv.Sync(ctx))
	assert.Len(t, conv.Messages(), 2)

	// Rows written while nobody was listening appear after a sync.
	b.seed("c1", "b", 1)
	alice.Pages.Invalidate("c1")
	require.NoError(t, conv.Sync(ctx))
	assert.Len(t, conv.Messages(), 3)
	assert.False(t, alice.Pages.Stale("c1"))
}

func lastReadOf(b *fakeBackend, conv, user string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRead[conv][user]
}

func TestReopenLoadsMessagesMissedWhileAway(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addUser("b", "Jean")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	b.addConversation("c2", ConversationPrivate, "b", "c")
	b.seed("c1", "a", 3)
	ctx := context.Background()
	bob, _ := newTestClient(t, b, "b")

	first, err := bob.Open(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, first.Messages(), 3)
	_, err = bob.Open(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, bob.Pages.Stale("c1"))

	missed := b.seed("c1", "a", 1)
	mark := lastReadOf(b, "c1", "b")

	again, err := bob.Open(ctx, "c1")
	require.NoError(t, err)
	msgs := again.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, missed[0].ID, msgs[3].ID)
	assert.False(t, bob.Pages.Stale("c1"))
	assert.True(t, lastReadOf(b, "c1", "b").After(mark))
}

func TestReopenWithoutReloadIsNotMarkedRead(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addUser("b", "Jean")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	b.addConversation("c2", ConversationPrivate, "b", "c")
	b.seed("c1", "a", 2)
	ctx := context.Background()
	bob, n := newTestClient(t, b, "b")

	_, err := bob.Open(ctx, "c1")
	require.NoError(t, err)
	_, err = bob.Open(ctx, "c2")
	require.NoError(t, err)
	b.seed("c1", "a", 1)
	mark := lastReadOf(b, "c1", "b")

	b.mu.Lock()
	b.selectErr = errOffline
	b.mu.Unlock()
	again, err := bob.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, again.Messages(), 2, "cached view is kept")
	assert.True(t, bob.Pages.Stale("c1"))
	assert.Equal(t, mark, lastReadOf(b, "c1", "b"))
	assert.NotEmpty(t, n.all())
}

func TestActiveConversationReloadsWhenInvalidated(t *testing.T) {
	b := newFakeBackend()
	b.addUser("a", "Awa")
	b.addConversation("c1", ConversationPrivate, "a", "b")
	b.seed("c1", "b", 2)
	ctx := context.Background()
	alice, _ := newTestClient(t, b, "a")

	conv, err := alice.Open(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages(), 2)

	// An update for a row the view never saw forces a reload on its own.
	ghost := b.seed("c1", "b", 1)[0]
	b.hub.publish(Event{Type: EventUpdate, ConversationID: "c1", Record: ghost})
	require.Eventually(t, func() bool {
		return len(conv.Messages()) == 3 && !alice.Pages.Stale("c1")
	}, time.Second, time.Millisecond)
}
