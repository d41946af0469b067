package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"consogab/config"
	"consogab/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
)

// setupDB points config.DB at a fresh in-memory database and replaces the
// service clock with one that ticks a second per call.
func setupDB(t *testing.T) {
	t.Helper()
	db, err := config.Open(sqlite.Open("file::memory:"), true)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	prev := Now
	Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	t.Cleanup(func() {
		Now = prev
		_ = sqlDB.Close()
	})
}

func mustUser(t *testing.T, username, display string) models.User {
	t.Helper()
	u, err := RegisterUser(context.Background(), username, "secret", display)
	require.NoError(t, err)
	return u
}

func mustConversation(t *testing.T, a, b string) string {
	t.Helper()
	c, _, err := GetOrCreateConversation(context.Background(), a, b, "")
	require.NoError(t, err)
	return c.ConversationID
}

// listen registers a connectionless client on Manager subscribed to conv.
func listen(t *testing.T, userID, conv string) *Client {
	t.Helper()
	c := NewClient(nil, userID)
	Manager.Register(c)
	require.NoError(t, Manager.Subscribe(c, conv))
	t.Cleanup(func() { Manager.Unregister(c) })
	return c
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw := <-c.Send:
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame")
	}
	return Frame{}
}

func noFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected frame %s", raw)
	default:
	}
}
