// Package telegram delivers watcher notifications through the Telegram Bot
// API sendMessage endpoint.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public Bot API host.
	DefaultBaseURL   = "https://api.telegram.org"
	defaultParseMode = "HTML"
	defaultTimeout   = 10 * time.Second
	maxErrorBody     = 512
)

// ErrNotConfigured is returned when the bot token or chat id is missing.
var ErrNotConfigured = errors.New("telegram bot token or chat id not configured")

// Config holds the bot credentials and destination.
type Config struct {
	BaseURL   string
	Token     string
	ChatID    string
	ParseMode string
	Timeout   time.Duration
}

// Notifier implements watcher.Notifier.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// New builds a Notifier. A nil client gets a default client bounded by
// cfg.Timeout.
func New(cfg Config, client *http.Client) *Notifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ParseMode == "" {
		cfg.ParseMode = defaultParseMode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Notifier{cfg: cfg, client: client}
}

// Configured reports whether both the token and chat id are set.
func (n *Notifier) Configured() bool {
	return n.cfg.Token != "" && n.cfg.ChatID != ""
}

// Send posts text to the configured chat. Only HTTP 200 counts as delivered.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if !n.Configured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("chat_id", n.cfg.ChatID)
	form.Set("text", text)
	form.Set("parse_mode", n.cfg.ParseMode)

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", redactToken(err, n.cfg.Token))
	}
	defer resp.Body.Close() //nolint:errcheck // body is drained below

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("sendMessage: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (n *Notifier) endpoint() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.BaseURL, n.cfg.Token)
}

// redactToken strips the bot token from transport errors, which embed the
// request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
