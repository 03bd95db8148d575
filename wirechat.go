// Package wirechat provides the Go client SDK for the WireChat messaging
// and notification service.
//
// Covers the REST persistence API, the realtime delivery channel, and the
// optimistic conversation session that ties the two together.
//
// Example:
//
//	client := wirechat.NewClient("https://chat.example.com", wirechat.WithToken("..."))
//
//	// REST API
//	msgs, _ := client.Conversation(ctx, "alice", "bob")
//
//	// Realtime session (optimistic send, typing, live updates)
//	sess := wirechat.NewSession(client, &wirechat.SessionConfig{UserID: "alice", PeerID: "bob"})
//	sess.Start(ctx)
//	sess.Send(ctx, "Hello!")
package wirechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Client
// ============================================================================

const (
	DefaultTimeout = 30 * time.Second
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

type ClientOption func(*Client)

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new WireChat client for the given server base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// WSURL returns the realtime channel URL derived from the base URL.
func (c *Client) WSURL() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed APIError
		if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
			apiErr.Message = parsed.Message
		}
		return nil, apiErr
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Message API
// ============================================================================

// CreateMessage persists a new message and returns the durable copy with
// its server-assigned ID. Client-local fields are never sent.
func (c *Client) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	payload := map[string]interface{}{
		"senderId":    msg.SenderID,
		"recipientId": msg.RecipientID,
		"content":     msg.Content,
		"timestamp":   msg.Timestamp,
	}
	data, err := c.doRequest(ctx, "POST", "/api/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// EditMessage rewrites the content of a stored message and returns the
// updated copy with IsEdited set.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*Message, error) {
	data, err := c.doRequest(ctx, "PUT", "/api/messages/"+messageID, map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// DeleteMessage removes a stored message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/api/messages/"+messageID, nil, nil)
	return err
}

// MarkMessageRead flags a stored message as read by its recipient.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "PUT", "/api/messages/read/"+messageID, nil, nil)
	return err
}

// Conversation returns the full message history between two users,
// oldest first.
func (c *Client) Conversation(ctx context.Context, userID, otherUserID string) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/api/messages/conversation", nil, map[string]string{
		"userId":      userID,
		"otherUserId": otherUserID,
	})
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return msgs, nil
}

// ListUsers returns the chat directory.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	data, err := c.doRequest(ctx, "GET", "/api/users", nil, nil)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return users, nil
}

// ============================================================================
// Notification API
// ============================================================================

// UnreadNotifications returns the user's unread notifications, newest first.
func (c *Client) UnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	data, err := c.doRequest(ctx, "GET", "/api/notifications/unread", nil, map[string]string{"userId": userID})
	if err != nil {
		return nil, err
	}
	var ns []Notification
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return ns, nil
}

// MarkNotificationRead flags a single notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	_, err := c.doRequest(ctx, "POST", "/api/notifications/"+notificationID+"/read", nil, nil)
	return err
}

// CreateNotification stores a notification and pushes it to the target
// user's notification topic.
func (c *Client) CreateNotification(ctx context.Context, n *Notification) (*Notification, error) {
	data, err := c.doRequest(ctx, "POST", "/api/notifications", n, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Notification](data)
}
