// Package telegram pushes approval requests to an operator chat via the
// Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrNotConfigured = errors.New("telegram bot token or chat id missing")

const apiBaseURL = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client.
type Client struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewClient creates a Telegram client. Empty credentials produce a client
// whose sends fail with ErrNotConfigured.
func NewClient(token, chatID string) *Client {
	return &Client{
		token:   token,
		chatID:  chatID,
		baseURL: apiBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether the client can actually send.
func (c *Client) Configured() bool {
	return c.token != "" && c.chatID != ""
}

// SendMessage posts a Markdown-formatted message to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
