package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribeFrame(conv string) []byte {
	return []byte(fmt.Sprintf(`{"type":"subscribe","conversation_id":%q}`, conv))
}

func TestHandleSubscribe(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	a := mustUser(t, "awa", "Awa")
	b := mustUser(t, "jean", "Jean")
	c := mustUser(t, "paul", "Paul")
	conv := mustConversation(t, a.ID, b.ID)

	m := NewWSManager()
	member := NewClient(nil, a.ID)
	m.Register(member)
	defer m.Unregister(member)

	m.handle(ctx, member, subscribeFrame(conv))
	f := nextFrame(t, member)
	assert.Equal(t, FrameSubscribed, f.Type)
	assert.Equal(t, conv, f.ConversationID)
	assert.Equal(t, 1, m.Subscribers(conv))

	// Subscribing twice keeps one subscription.
	m.handle(ctx, member, subscribeFrame(conv))
	nextFrame(t, member)
	assert.Equal(t, 1, m.Subscribers(conv))

	outsider := NewClient(nil, c.ID)
	m.Register(outsider)
	defer m.Unregister(outsider)
	m.handle(ctx, outsider, subscribeFrame(conv))
	f = nextFrame(t, outsider)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, ErrNotParticipant.Error(), f.Error)
	assert.Equal(t, 1, m.Subscribers(conv))

	m.handle(ctx, member, []byte(fmt.Sprintf(`{"type":"unsubscribe","conversation_id":%q}`, conv)))
	f = nextFrame(t, member)
	assert.Equal(t, FrameUnsubscribed, f.Type)
	assert.Equal(t, 0, m.Subscribers(conv))
}

func TestHandleBadFrames(t *testing.T) {
	m := NewWSManager()
	c := NewClient(nil, "u1")
	m.Register(c)
	defer m.Unregister(c)

	m.handle(context.Background(), c, []byte("{not json"))
	assert.Equal(t, FrameError, nextFrame(t, c).Type)

	m.handle(context.Background(), c, []byte(`{"type":"shout"}`))
	f := nextFrame(t, c)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "unknown frame type", f.Error)
}

func TestHandlePongTouchesClient(t *testing.T) {
	m := NewWSManager()
	c := NewClient(nil, "u1")
	c.LastPing = time.Now().Add(-time.Minute)
	m.Register(c)
	defer m.Unregister(c)

	m.handle(context.Background(), c, []byte("pong"))
	assert.WithinDuration(t, time.Now(), c.lastPing(), time.Second)
	noFrame(t, c)
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	m := NewWSManager()
	a := NewClient(nil, "u1")
	b := NewClient(nil, "u2")
	other := NewClient(nil, "u3")
	for _, c := range []*Client{a, b, other} {
		m.Register(c)
		defer m.Unregister(c)
	}
	require.NoError(t, m.Subscribe(a, "c1"))
	require.NoError(t, m.Subscribe(b, "c1"))
	require.NoError(t, m.Subscribe(other, "c2"))

	m.PublishMessage(FrameInsert, MessageView{ID: "m1", ConversationID: "c1", Content: "Bonjour"})
	for _, c := range []*Client{a, b} {
		f := nextFrame(t, c)
		assert.Equal(t, FrameInsert, f.Type)
		assert.Equal(t, "Bonjour", f.Record.Content)
	}
	noFrame(t, other)
}

func TestPublishDropsSlowClient(t *testing.T) {
	m := NewWSManager()
	slow := NewClient(nil, "u1")
	m.Register(slow)
	require.NoError(t, m.Subscribe(slow, "c1"))

	for i := 0; i <= sendBuffer; i++ {
		m.PublishMessage(FrameInsert, MessageView{ID: fmt.Sprint(i), ConversationID: "c1"})
	}
	assert.Equal(t, 0, m.Subscribers("c1"))
	assert.ErrorIs(t, m.Subscribe(slow, "c1"), ErrClientClosed)

	n := 0
	for range slow.Send {
		n++
	}
	assert.Equal(t, sendBuffer, n, "queued frames are still drained")
}

func TestUnregisterTwice(t *testing.T) {
	m := NewWSManager()
	c := NewClient(nil, "u1")
	m.Register(c)
	require.NoError(t, m.Subscribe(c, "c1"))

	m.Unregister(c)
	m.Unregister(c)
	assert.Equal(t, 0, m.Subscribers("c1"))
	_, open := <-c.Send
	assert.False(t, open)
}

func TestRunClosesClients(t *testing.T) {
	m := NewWSManager()
	c := NewClient(nil, "u1")
	m.Register(c)
	require.NoError(t, m.Subscribe(c, "c1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, m.Subscribers("c1"))
}
