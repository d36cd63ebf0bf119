package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org"

// Notifier delivers a text message to a payer. Delivery is best effort:
// failures are logged by the implementation and never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string)
}

// TelegramClient sends messages through the Telegram Bot API.
type TelegramClient struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewTelegramClient(botToken string, timeout time.Duration, logger *zap.Logger) *TelegramClient {
	return &TelegramClient{
		baseURL:  telegramAPI,
		botToken: botToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// WithBaseURL points the client at another Bot API host.
func (c *TelegramClient) WithBaseURL(u string) *TelegramClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *TelegramClient) Notify(ctx context.Context, chatID, text string) {
	if err := c.SendMessage(ctx, chatID, text); err != nil {
		c.logger.Warn("telegram notification failed",
			zap.String("chat_id", chatID),
			zap.Error(err))
	}
}

// SendMessage calls sendMessage and reports failures.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	if c.botToken == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &result); err != nil || !result.OK {
		return fmt.Errorf("telegram error (status %d): %s", resp.StatusCode, strings.TrimSpace(result.Description+" "+string(body)))
	}
	return nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) {}
