package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"consogab/logger"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 10 * time.Second // 发送 Ping 的间隔
	pongTimeout  = 15 * time.Second // 超过 15 秒未收到 Pong 断开连接
	writeWait    = 5 * time.Second
	sendBuffer   = 64
	maxFrameSize = 4096
)

// Frame types. Clients send the lower case ones.
const (
	FrameInsert       = "INSERT"
	FrameUpdate       = "UPDATE"
	FrameSubscribed   = "SUBSCRIBED"
	FrameUnsubscribed = "UNSUBSCRIBED"
	FrameError        = "ERROR"
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"

	TableMessages = "messages"
)

// Frame is one websocket text frame.
type Frame struct {
	Type           string       `json:"type"`
	Table          string       `json:"table,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Record         *MessageView `json:"record,omitempty"`
	Error          string       `json:"error,omitempty"`
}

var ErrClientClosed = errors.New("client closed")

// Client is one websocket connection of a user.
type Client struct {
	Conn     *websocket.Conn
	Send     chan []byte
	ID       string // user id
	LastPing time.Time

	mu     sync.Mutex
	closed bool
	subs   map[string]struct{} // guarded by the manager lock
}

func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		ID:       userID,
		LastPing: time.Now(),
		subs:     make(map[string]struct{}),
	}
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client is closed.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendFrame(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return c.trySend(data)
}

func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()
}

func (c *Client) lastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LastPing
}

// WSManager fans realtime events out to the clients subscribed to a
// conversation.
type WSManager struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	subs    map[string]map[*Client]struct{}
}

func NewWSManager() *WSManager {
	return &WSManager{
		clients: make(map[*Client]struct{}),
		subs:    make(map[string]map[*Client]struct{}),
	}
}

// Manager is the process-wide hub.
var Manager = NewWSManager()

// Run closes every client once ctx is done.
func (m *WSManager) Run(ctx context.Context) {
	<-ctx.Done()
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()
	for _, c := range clients {
		m.Unregister(c)
	}
}

func (m *WSManager) Register(c *Client) {
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()
	wsConnections.Inc()
	logger.With("hub").Debug().Str("user_id", c.ID).Msg("client registered")
}

// Unregister drops c and all of its subscriptions and closes its send
// channel. Calling it twice is a no-op.
func (m *WSManager) Unregister(c *Client) {
	m.mu.Lock()
	if _, ok := m.clients[c]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, c)
	for conv := range c.subs {
		m.removeSub(conv, c)
	}
	m.mu.Unlock()
	c.close()
	wsConnections.Dec()
	logger.With("hub").Debug().Str("user_id", c.ID).Msg("client unregistered")
}

func (m *WSManager) removeSub(conv string, c *Client) {
	set := m.subs[conv]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	delete(c.subs, conv)
	if len(set) == 0 {
		delete(m.subs, conv)
	}
	realtimeSubscriptions.Dec()
}

func (m *WSManager) Subscribe(c *Client, conv string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c]; !ok {
		return ErrClientClosed
	}
	if _, ok := c.subs[conv]; ok {
		return nil
	}
	set := m.subs[conv]
	if set == nil {
		set = make(map[*Client]struct{})
		m.subs[conv] = set
	}
	set[c] = struct{}{}
	c.subs[conv] = struct{}{}
	realtimeSubscriptions.Inc()
	return nil
}

func (m *WSManager) Unsubscribe(c *Client, conv string) {
	m.mu.Lock()
	m.removeSub(conv, c)
	m.mu.Unlock()
}

// Subscribers returns how many clients listen to conv.
func (m *WSManager) Subscribers(conv string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[conv])
}

// Publish delivers f to the subscribers of its conversation. A client whose
// buffer is full is disconnected; it reloads on reconnect.
func (m *WSManager) Publish(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		logger.With("hub").Error().Err(err).Msg("marshal frame")
		return
	}
	var slow []*Client
	m.mu.Lock()
	for c := range m.subs[f.ConversationID] {
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	}
	m.mu.Unlock()
	realtimeEvents.WithLabelValues(f.Type).Inc()
	for _, c := range slow {
		logger.With("hub").Warn().Str("user_id", c.ID).Str("conversation_id", f.ConversationID).Msg("send buffer full, dropping client")
		realtimeDropped.Inc()
		m.Unregister(c)
	}
}

// PublishMessage broadcasts a row change of the messages table.
func (m *WSManager) PublishMessage(eventType string, msg MessageView) {
	m.Publish(Frame{Type: eventType, Table: TableMessages, ConversationID: msg.ConversationID, Record: &msg})
}

// handle processes one client frame.
func (m *WSManager) handle(ctx context.Context, c *Client, raw []byte) {
	if string(raw) == "pong" {
		c.touch()
		return
	}
	var in Frame
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendFrame(Frame{Type: FrameError, Error: "invalid frame"})
		return
	}
	switch in.Type {
	case FrameSubscribe:
		if err := RequireParticipant(ctx, in.ConversationID, c.ID); err != nil {
			c.sendFrame(Frame{Type: FrameError, ConversationID: in.ConversationID, Error: err.Error()})
			return
		}
		if err := m.Subscribe(c, in.ConversationID); err != nil {
			return
		}
		c.sendFrame(Frame{Type: FrameSubscribed, ConversationID: in.ConversationID})
	case FrameUnsubscribe:
		m.Unsubscribe(c, in.ConversationID)
		c.sendFrame(Frame{Type: FrameUnsubscribed, ConversationID: in.ConversationID})
	default:
		c.sendFrame(Frame{Type: FrameError, ConversationID: in.ConversationID, Error: "unknown frame type"})
	}
}

// ReadMessages reads client frames until the connection fails.
func (m *WSManager) ReadMessages(ctx context.Context, c *Client) {
	defer m.Unregister(c)
	c.Conn.SetReadLimit(maxFrameSize)
	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		m.handle(ctx, c, msg)
	}
}

// WriteMessages owns every write to the connection, heartbeat included.
func (c *Client) WriteMessages() {
	log := logger.With("hub")
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if time.Since(c.lastPing()) > pongTimeout {
				log.Info().Str("user_id", c.ID).Msg("client timeout, closing connection")
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				log.Debug().Err(err).Str("user_id", c.ID).Msg("ping failed")
				return
			}
		}
	}
}
