// Package remote binds chatsync to the ConsoGab HTTP API and its websocket
// push channel.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"consogab/chatsync"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx reply of the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type envelope struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// HTTPBackend implements chatsync.Backend over the REST API. The bearer
// token identifies the caller, so user id arguments only select the
// endpoint.
type HTTPBackend struct {
	base  string
	token string
	httpc *http.Client
}

// NewHTTPBackend returns a backend for the API rooted at baseURL
// (e.g. http://host:8082). A nil client uses one with a 15s timeout.
func NewHTTPBackend(baseURL, token string, httpc *http.Client) *HTTPBackend {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPBackend{base: strings.TrimRight(baseURL, "/"), token: token, httpc: httpc}
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (b *HTTPBackend) SelectConversationsForUser(ctx context.Context, userID string) ([]chatsync.Conversation, error) {
	var out []chatsync.Conversation
	if err := b.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		for j := range out[i].Participants {
			out[i].Participants[j].ConversationID = out[i].ID
		}
	}
	return out, nil
}

func (b *HTTPBackend) SelectMessages(ctx context.Context, conversationID string, start, end int) ([]chatsync.Message, error) {
	q := url.Values{}
	q.Set("start", strconv.Itoa(start))
	q.Set("end", strconv.Itoa(end))
	var out []chatsync.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()
	if err := b.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type insertBody struct {
	Content     string               `json:"content"`
	Kind        chatsync.Kind        `json:"kind"`
	ClientToken string               `json:"client_token,omitempty"`
	Attachment  *chatsync.Attachment `json:"attachment,omitempty"`
	ReplyTo     string               `json:"reply_to,omitempty"`
}

func (b *HTTPBackend) InsertMessage(ctx context.Context, in chatsync.NewMessage) (chatsync.Message, error) {
	var out chatsync.Message
	body := insertBody{
		Content:     in.Content,
		Kind:        in.Kind,
		ClientToken: in.ClientToken,
		Attachment:  in.Attachment,
		ReplyTo:     in.ReplyTo,
	}
	path := "/api/conversations/" + url.PathEscape(in.ConversationID) + "/messages"
	if err := b.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return chatsync.Message{}, err
	}
	return out, nil
}

func (b *HTTPBackend) UpdateConversationTimestamp(ctx context.Context, conversationID string) error {
	return b.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/touch", nil, nil)
}

func (b *HTTPBackend) UpdateLastRead(ctx context.Context, conversationID, userID string) error {
	return b.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

func (b *HTTPBackend) ResolveProfiles(ctx context.Context, userIDs []string) (map[string]chatsync.Profile, error) {
	out := make(map[string]chatsync.Profile)
	if len(userIDs) == 0 {
		return out, nil
	}
	if err := b.do(ctx, http.MethodPost, "/api/profiles/resolve", map[string][]string{"user_ids": userIDs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBackend) StartConversation(ctx context.Context, userID, receiverID, businessID string) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	in := map[string]string{"receiver_id": receiverID}
	if businessID != "" {
		in["business_id"] = businessID
	}
	if err := b.do(ctx, http.MethodPost, "/api/conversations", in, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

func (b *HTTPBackend) ToggleReaction(ctx context.Context, messageID, userID, symbol string) (chatsync.Message, error) {
	var out chatsync.Message
	path := "/api/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := b.do(ctx, http.MethodPost, path, map[string]string{"symbol": symbol}, &out); err != nil {
		return chatsync.Message{}, err
	}
	return out, nil
}

// Login exchanges credentials for a token and the caller's session.
func Login(ctx context.Context, baseURL, username, password string, httpc *http.Client) (string, chatsync.Session, error) {
	return authenticate(ctx, baseURL, "/api/login", map[string]string{"username": username, "password": password}, httpc)
}

// Register creates an account and signs it in.
func Register(ctx context.Context, baseURL, username, password, displayName string, httpc *http.Client) (string, chatsync.Session, error) {
	in := map[string]string{"username": username, "password": password, "display_name": displayName}
	return authenticate(ctx, baseURL, "/api/register", in, httpc)
}

func authenticate(ctx context.Context, baseURL, path string, in interface{}, httpc *http.Client) (string, chatsync.Session, error) {
	var out struct {
		Token string           `json:"token"`
		User  chatsync.Profile `json:"user"`
	}
	if err := NewHTTPBackend(baseURL, "", httpc).do(ctx, http.MethodPost, path, in, &out); err != nil {
		return "", chatsync.Session{}, err
	}
	return out.Token, chatsync.Session{UserID: out.User.ID, Profile: out.User}, nil
}

var _ chatsync.Backend = (*HTTPBackend)(nil)
