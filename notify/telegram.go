// Package notify delivers best-effort status notifications. Failures are
// logged and swallowed; notification delivery never blocks registration
// progress.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org"

//nolint:lll
type Config struct {
	BotToken string        `long:"bot-token" description:"Telegram bot token (notifications are disabled without it)"`
	ChatID   string        `long:"chat-id"   description:"Telegram chat id to notify"`
	Cooldown time.Duration `long:"cooldown"  description:"Minimum interval between notifications of the same kind"`
}

func DefaultConfig() Config {
	return Config{
		Cooldown: 5 * time.Minute,
	}
}

// Telegram sends messages through the Telegram Bot API. Messages sharing a
// first line are considered the same kind and are rate limited by the
// cooldown, so a flapping credential cannot flood the chat.
type Telegram struct {
	cfg    Config
	apiURL string
	client *http.Client
	logger *zap.Logger

	recent *lru.Cache
}

func NewTelegram(cfg Config, logger *zap.Logger) *Telegram {
	// Only an allocation error can happen here, and only on size <= 0.
	recent, _ := lru.New(256)
	return &Telegram{
		cfg:    cfg,
		apiURL: telegramAPIURL,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("telegram"),
		recent: recent,
	}
}

// Enabled reports whether the notifier is configured to deliver anything.
func (t *Telegram) Enabled() bool {
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	if t.suppressed(message) {
		t.logger.Debug("notification suppressed by cooldown")
		return nil
	}

	form := url.Values{
		"chat_id":    []string{t.cfg.ChatID},
		"text":       []string{message},
		"parse_mode": []string{"Markdown"},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("notification failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.logger.Warn("notification rejected",
			zap.String("status", resp.Status), zap.ByteString("body", body))
		return fmt.Errorf("telegram: unexpected status %s", resp.Status)
	}
	t.logger.Debug("notification sent")
	return nil
}

func (t *Telegram) suppressed(message string) bool {
	if t.cfg.Cooldown <= 0 {
		return false
	}
	kind, _, _ := strings.Cut(message, "\n")
	if last, ok := t.recent.Get(kind); ok {
		if time.Since(last.(time.Time)) < t.cfg.Cooldown {
			return true
		}
	}
	t.recent.Add(kind, time.Now())
	return false
}
