package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingToken is returned when the bot token is empty
var ErrMissingToken = errors.New("telegram bot token is required")

// DeliveryError reports a failed delivery to one chat
type DeliveryError struct {
	ChatID int64
	Status int
	Body   string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to chat %d: %v", e.ChatID, e.Err)
	}
	return fmt.Sprintf("deliver to chat %d: status %d: %s", e.ChatID, e.Status, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Sender delivers one message to one chat
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramConfig configures the bot API client
type TelegramConfig struct {
	Token   string
	APIBase string
	Timeout time.Duration
	Client  *http.Client
}

// Telegram sends messages through the Bot API sendMessage method
type Telegram struct {
	endpoint string
	client   *http.Client
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewTelegram creates a Bot API sender
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Telegram{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(cfg.APIBase, "/"), cfg.Token),
		client:   client,
	}, nil
}

// Send posts text to chatID with HTML parse mode
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "html",
	})
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: redact(err, t.endpoint)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DeliveryError{
			ChatID: chatID,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}
	return nil
}

// redact keeps the bot token out of transport errors, which embed the URL
func redact(err error, endpoint string) error {
	msg := err.Error()
	if !strings.Contains(msg, endpoint) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, endpoint, "<telegram sendMessage>"))
}
