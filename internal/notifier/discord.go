package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/metrics"
)

const (
	DefaultDiscordURL = "https://discord.com/api/v10"
	// DiscordMessageLimit is the maximum message length in characters.
	DiscordMessageLimit = 2000
)

// DiscordNotifier posts to a channel through the bot REST API.
type DiscordNotifier struct {
	Token     string
	ChannelID string
	BaseURL   string
	Policy    RetryPolicy
	Client    *http.Client
	Metrics   *metrics.Metrics
}

func NewDiscordNotifier(token, channelID string, policy RetryPolicy, m *metrics.Metrics) *DiscordNotifier {
	return &DiscordNotifier{
		Token:     token,
		ChannelID: channelID,
		BaseURL:   DefaultDiscordURL,
		Policy:    policy,
		Client:    &http.Client{Timeout: 15 * time.Second},
		Metrics:   m,
	}
}

// Send posts msg, split into as many messages as the length limit needs.
func (d *DiscordNotifier) Send(ctx context.Context, msg string) error {
	for _, chunk := range Split(msg, DiscordMessageLimit) {
		if err := d.post(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordNotifier) post(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	apiURL := fmt.Sprintf("%s/channels/%s/messages", strings.TrimRight(d.BaseURL, "/"), d.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.Token)
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("discord send failed: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (d *DiscordNotifier) SendWithRetry(ctx context.Context, msg string) error {
	return sendChunksWithRetry(ctx, "discord", d.Policy, d.Metrics, d.post, msg, DiscordMessageLimit)
}

func (d *DiscordNotifier) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	return retryWithNotification(ctx, d, d.Policy, action, description)
}
