package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mahaj/chat-sync/pkg/model"
)

// Client speaks to the resource API service. It satisfies the engine's
// ResourceAPI contract.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges a user id for a bearer token and keeps it for subsequent
// requests.
func (c *Client) Login(ctx context.Context, userID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", map[string]string{"user_id": userID}, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return nil
}

// Token returns the bearer token obtained by Login.
func (c *Client) Token() string { return c.token }

// CreateMessage durably writes a message and returns the canonical record
// with its server-assigned id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string) (model.Message, error) {
	req := map[string]string{"conversation_id": conversationID, "content": content}
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// MarkRead acknowledges a batch of message ids.
func (c *Client) MarkRead(ctx context.Context, messageIDs []string) error {
	req := map[string][]string{"message_ids": messageIDs}
	if err := c.do(ctx, http.MethodPost, "/messages/read", req, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Conversations fetches one page of the user's conversation list plus the
// server-side total.
func (c *Client) Conversations(ctx context.Context, offset, limit int) ([]model.Conversation, int, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Items []model.Conversation `json:"items"`
		Tally int                  `json:"tally"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &resp); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return resp.Items, resp.Tally, nil
}

// Messages fetches a conversation's full history in ascending order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &msgs); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

// Participants fetches the users currently present in a conversation.
func (c *Client) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var users []string
	path := "/conversations/" + url.PathEscape(conversationID) + "/users"
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, fmt.Errorf("conversation users: %w", err)
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
