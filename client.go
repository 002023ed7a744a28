// Package rocketchat provides a REST client for the Rocket.Chat API.
//
// Covers the chat, subscription, room and live chat endpoints the bridge uses,
// with a sub-module access pattern.
//
// Example:
//
//	client, _ := rocketchat.NewClient("https://chat.example.com", "user-id", "auth-token")
//
//	client.Chat.PostMessage(ctx, &rocketchat.PostMessageOptions{RoomID: "GENERAL", Text: "Hello"})
//	client.Subscriptions.Read(ctx, "GENERAL")
//	client.LiveChat.VisitorRooms(ctx, "visitor-token")
package rocketchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	apiPrefix      = "/api/v1/"
)

// ErrNoHost is returned when a client is built without a server URL.
var ErrNoHost = errors.New("rocketchat: host is required")

// ============================================================================
// Client
// ============================================================================

type Client struct {
	host       string
	userID     string
	token      string
	httpClient *http.Client

	Subscriptions *SubscriptionsClient
	Rooms         *RoomsClient
	Chat          *ChatClient
	Channels      *ChannelsClient
	Groups        *GroupsClient
	IM            *IMClient
	Users         *UsersClient
	LiveChat      *LiveChatClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Rocket.Chat client. userID and token are the
// personal access token pair; both may be empty for visitor-only calls.
func NewClient(host, userID, token string, opts ...ClientOption) (*Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, ErrNoHost
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}

	c := &Client{
		host:   host,
		userID: userID,
		token:  token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Subscriptions = &SubscriptionsClient{c: c}
	c.Rooms = &RoomsClient{c: c}
	c.Chat = &ChatClient{c: c}
	c.Channels = &ChannelsClient{c: c}
	c.Groups = &GroupsClient{c: c}
	c.IM = &IMClient{c: c}
	c.Users = &UsersClient{c: c}
	c.LiveChat = &LiveChatClient{c: c}
	return c, nil
}

// Host returns the normalized server URL.
func (c *Client) Host() string { return c.host }

// UserID returns the identity the client authenticates as.
func (c *Client) UserID() string { return c.userID }

// WebSocketURL derives the realtime endpoint from a server URL: wss for
// https hosts, ws otherwise, always at /websocket.
func WebSocketURL(host string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(host))
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid host %q: missing hostname", host)
	}
	scheme := "ws"
	if strings.EqualFold(u.Scheme, "https") || strings.EqualFold(u.Scheme, "wss") {
		scheme = "wss"
	}
	return scheme + "://" + u.Host + "/websocket", nil
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, int, error) {
	u := c.host + apiPrefix + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}
	if c.userID != "" {
		req.Header.Set("X-User-Id", c.userID)
	}
}

func decodeJSON[T any](data []byte, status int) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		if status >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", status, truncate(string(data), 200))
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func do[T any](ctx context.Context, c *Client, method, path string, body interface{}, query url.Values) (*T, error) {
	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data, status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ============================================================================
// Sub-Clients
// ============================================================================

// SubscriptionsClient handles the per-user room subscriptions.
type SubscriptionsClient struct{ c *Client }

func (s *SubscriptionsClient) Get(ctx context.Context) (*SubscriptionsResult, error) {
	return do[SubscriptionsResult](ctx, s.c, "GET", "subscriptions.get", nil, nil)
}

func (s *SubscriptionsClient) GetOne(ctx context.Context, roomID string) (*SubscriptionResult, error) {
	return do[SubscriptionResult](ctx, s.c, "GET", "subscriptions.getOne", nil, url.Values{"roomId": {roomID}})
}

// Read marks every message in the room as read.
func (s *SubscriptionsClient) Read(ctx context.Context, roomID string) (*Result, error) {
	return do[Result](ctx, s.c, "POST", "subscriptions.read", map[string]string{"rid": roomID}, nil)
}

// RoomsClient handles room history and uploads.
type RoomsClient struct{ c *Client }

// History returns messages newer than oldest. The endpoint family is picked
// from the room type code.
func (r *RoomsClient) History(ctx context.Context, roomID string, oldest time.Time, roomType string) (*HistoryResult, error) {
	q := url.Values{"roomId": {roomID}}
	if !oldest.IsZero() {
		q.Set("oldest", Time{oldest}.String())
	}
	return do[HistoryResult](ctx, r.c, "GET", historyEndpoint(roomType)+".history", nil, q)
}

// ChatClient handles posting messages.
type ChatClient struct{ c *Client }

func (ch *ChatClient) PostMessage(ctx context.Context, opts *PostMessageOptions) (*MessageResult, error) {
	if opts == nil || (opts.RoomID == "" && opts.Channel == "") {
		return nil, fmt.Errorf("roomId or channel is required")
	}
	return do[MessageResult](ctx, ch.c, "POST", "chat.postMessage", opts, nil)
}

// SendMessage sends a plain message document to a room.
func (ch *ChatClient) SendMessage(ctx context.Context, roomID, text string) (*MessageResult, error) {
	if roomID == "" {
		return nil, fmt.Errorf("roomId is required")
	}
	return do[MessageResult](ctx, ch.c, "POST", "chat.sendMessage", map[string]any{
		"message": map[string]string{"rid": roomID, "msg": text},
	}, nil)
}

// ChannelsClient handles public rooms.
type ChannelsClient struct{ c *Client }

func (ch *ChannelsClient) Create(ctx context.Context, opts *CreateRoomOptions) (*ChannelResult, error) {
	if opts == nil || opts.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	return do[ChannelResult](ctx, ch.c, "POST", "channels.create", opts, nil)
}

// GroupsClient handles private rooms.
type GroupsClient struct{ c *Client }

func (g *GroupsClient) Create(ctx context.Context, opts *CreateRoomOptions) (*GroupResult, error) {
	if opts == nil || opts.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	return do[GroupResult](ctx, g.c, "POST", "groups.create", opts, nil)
}

// IMClient handles direct message rooms.
type IMClient struct{ c *Client }

func (im *IMClient) Create(ctx context.Context, username string) (*RoomResult, error) {
	return do[RoomResult](ctx, im.c, "POST", "im.create", map[string]string{"username": username}, nil)
}

// UsersClient handles identity lookups.
type UsersClient struct{ c *Client }

func (u *UsersClient) Me(ctx context.Context) (*MeResult, error) {
	return do[MeResult](ctx, u.c, "GET", "me", nil, nil)
}

func (u *UsersClient) Spotlight(ctx context.Context, query string) (*SpotlightResult, error) {
	return do[SpotlightResult](ctx, u.c, "GET", "spotlight", nil, url.Values{"query": {query}})
}
