package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"consogab/chatsync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	eventBuffer      = 64
)

type frame struct {
	Type           string            `json:"type"`
	Table          string            `json:"table,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Record         *chatsync.Message `json:"record,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// ErrSubscribeRefused is returned when the hub answers a subscribe with an
// ERROR frame, typically because the caller is not a participant.
var ErrSubscribeRefused = errors.New("remote: subscription refused")

// WSChannel implements chatsync.Channel with one websocket connection per
// subscription.
type WSChannel struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewWSChannel returns a channel for the API rooted at baseURL. The http
// scheme is mapped to ws and the token goes in the query string.
func NewWSChannel(baseURL, token string, log zerolog.Logger) (*WSChannel, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return &WSChannel{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:    log.With().Str("component", "ws-channel").Logger(),
	}, nil
}

// Subscribe dials, asks the hub for conversationID and waits for the
// acknowledgement.
func (ch *WSChannel) Subscribe(ctx context.Context, conversationID string) (chatsync.Subscription, error) {
	conn, _, err := ch.dialer.DialContext(ctx, ch.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	s := &wsSubscription{
		conn:   conn,
		conv:   conversationID,
		events: make(chan chatsync.Event, eventBuffer),
		done:   make(chan struct{}),
		log:    ch.log.With().Str("conversation_id", conversationID).Logger(),
	}
	if err := s.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	conv   string
	events chan chatsync.Event
	done   chan struct{}
	log    zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *wsSubscription) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSubscription) handshake(ctx context.Context) error {
	req, _ := json.Marshal(frame{Type: "subscribe", ConversationID: s.conv})
	if err := s.write(req); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await subscription: %w", err)
		}
		if string(raw) == "ping" {
			if err := s.write([]byte("pong")); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
			continue
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		switch f.Type {
		case "SUBSCRIBED":
			if f.ConversationID == s.conv {
				return nil
			}
		case "ERROR":
			return fmt.Errorf("%w: %s", ErrSubscribeRefused, f.Error)
		}
	}
}

func (s *wsSubscription) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn().Err(err).Msg("push channel closed")
			}
			return
		}
		if string(raw) == "ping" {
			if err := s.write([]byte("pong")); err != nil {
				s.log.Debug().Err(err).Msg("pong failed")
			}
			continue
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if f.Table != "messages" || f.Record == nil {
			continue
		}
		ev := chatsync.Event{Type: chatsync.EventType(f.Type), ConversationID: f.ConversationID, Record: *f.Record}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) Events() <-chan chatsync.Event { return s.events }

// Close unsubscribes and closes the connection. It is safe to call more
// than once.
func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		req, _ := json.Marshal(frame{Type: "unsubscribe", ConversationID: s.conv})
		_ = s.write(req)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
