package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/metrics"
)

const (
	DefaultTelegramURL   = "https://api.telegram.org"
	TelegramMessageLimit = 4096
)

type TelegramNotifier struct {
	Token   string
	ChatID  string
	BaseURL string
	Policy  RetryPolicy
	Client  *http.Client
	Metrics *metrics.Metrics
}

func NewTelegramNotifier(token, chatID string, policy RetryPolicy, m *metrics.Metrics) *TelegramNotifier {
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		BaseURL: DefaultTelegramURL,
		Policy:  policy,
		Client:  &http.Client{Timeout: 15 * time.Second},
		Metrics: m,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	for _, chunk := range Split(message, TelegramMessageLimit) {
		if err := t.send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.Token)
	form := url.Values{
		"chat_id": {t.ChatID},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

func (t *TelegramNotifier) SendWithRetry(ctx context.Context, msg string) error {
	return sendChunksWithRetry(ctx, "telegram", t.Policy, t.Metrics, t.send, msg, TelegramMessageLimit)
}

func (t *TelegramNotifier) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	return retryWithNotification(ctx, t, t.Policy, action, description)
}
