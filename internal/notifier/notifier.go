// Package notifier
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/amirphl/depth-analytics/internal/metrics"
	"github.com/amirphl/depth-analytics/internal/utils"
)

// Notifier interface for sending notifications (e.g., Discord, Telegram).
type Notifier interface {
	Send(ctx context.Context, msg string) error
	SendWithRetry(ctx context.Context, msg string) error
	RetryWithNotification(ctx context.Context, action func() error, description string) error
}

// RetryPolicy controls SendWithRetry and RetryWithNotification.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// sendWithRetry retries send with linearly growing delays.
func sendWithRetry(ctx context.Context, name string, p RetryPolicy, m *metrics.Metrics, send func(context.Context, string) error, msg string) error {
	p = p.normalized()
	var err error
	for i := 1; i <= p.Attempts; i++ {
		if err = send(ctx, msg); err == nil {
			m.Notification(name, nil)
			return nil
		}
		utils.GetLogger().Printf("Notifier | %s send attempt %d/%d failed: %v", name, i, p.Attempts, err)
		if i < p.Attempts {
			if serr := sleep(ctx, time.Duration(i)*p.Delay); serr != nil {
				err = serr
				break
			}
		}
	}
	m.Notification(name, err)
	return fmt.Errorf("%s: send failed: %w", name, err)
}

// sendChunksWithRetry splits msg and retries each chunk on its own, so a
// failure never reposts chunks that were already delivered.
func sendChunksWithRetry(ctx context.Context, name string, p RetryPolicy, m *metrics.Metrics, send func(context.Context, string) error, msg string, limit int) error {
	chunks := Split(msg, limit)
	for i, chunk := range chunks {
		if err := sendWithRetry(ctx, name, p, m, send, chunk); err != nil {
			if len(chunks) > 1 {
				return fmt.Errorf("part %d/%d: %w", i+1, len(chunks), err)
			}
			return err
		}
	}
	return nil
}

// retryWithNotification runs action until it succeeds or attempts run out,
// then reports the failure through n.
func retryWithNotification(ctx context.Context, n Notifier, p RetryPolicy, action func() error, description string) error {
	p = p.normalized()
	var err error
	for i := 1; i <= p.Attempts; i++ {
		if err = action(); err == nil {
			return nil
		}
		utils.GetLogger().Printf("Notifier | %s attempt %d/%d failed: %v", description, i, p.Attempts, err)
		if i < p.Attempts {
			if serr := sleep(ctx, time.Duration(i)*p.Delay); serr != nil {
				return serr
			}
		}
	}

	msg := fmt.Sprintf("❌ %s failed after %d attempts: %v", description, p.Attempts, err)
	if nerr := n.SendWithRetry(ctx, msg); nerr != nil {
		utils.GetLogger().Errorf("Notifier | failed to report %s: %v", description, nerr)
	}
	return err
}

// Split breaks msg into chunks of at most limit runes, cutting at the last
// newline inside the window when there is one.
func Split(msg string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(msg) <= limit {
		return []string{msg}
	}

	var chunks []string
	rest := []rune(msg)
	for len(rest) > limit {
		cut := limit
		if i := strings.LastIndex(string(rest[:limit]), "\n"); i > 0 {
			cut = utf8.RuneCountInString(string(rest[:limit])[:i]) + 1
		}
		chunks = append(chunks, string(rest[:cut]))
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

// Multi fans a message out to every notifier. It fails only if all of them
// fail.
type Multi struct {
	notifiers []Notifier
	policy    RetryPolicy
}

func NewMulti(policy RetryPolicy, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, policy: policy}
}

func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) each(fn func(Notifier) error) error {
	if len(m.notifiers) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.notifiers) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		utils.GetLogger().Warnf("Notifier | partial delivery failure: %v", err)
	}
	return nil
}

func (m *Multi) Send(ctx context.Context, msg string) error {
	return m.each(func(n Notifier) error { return n.Send(ctx, msg) })
}

func (m *Multi) SendWithRetry(ctx context.Context, msg string) error {
	return m.each(func(n Notifier) error { return n.SendWithRetry(ctx, msg) })
}

func (m *Multi) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	return retryWithNotification(ctx, m, m.policy, action, description)
}

// Noop discards messages.
type Noop struct{}

func (Noop) Send(ctx context.Context, msg string) error          { return nil }
func (Noop) SendWithRetry(ctx context.Context, msg string) error { return nil }
func (Noop) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	return action()
}
