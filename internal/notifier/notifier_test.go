package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	bodies   []string
	auth     []string
	failures int
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.failures > 0 {
			r.failures--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
			var body struct {
				Content string `json:"content"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			r.bodies = append(r.bodies, body.Content)
		} else {
			require.NoError(t, req.ParseForm())
			r.bodies = append(r.bodies, req.PostForm.Get("text"))
		}
		w.WriteHeader(http.StatusOK)
	}
}

func newDiscord(t *testing.T, rec *recorder) *DiscordNotifier {
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)
	d := NewDiscordNotifier("tok", "42", RetryPolicy{Attempts: 3}, nil)
	d.BaseURL = srv.URL
	return d
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, Split("short", 10))

	msg := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	assert.Equal(t, []string{strings.Repeat("a", 8) + "\n", strings.Repeat("b", 8)}, Split(msg, 10))

	long := strings.Repeat("é", 25)
	parts := Split(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestDiscord_SendSplitsLongMessages(t *testing.T) {
	rec := &recorder{}
	d := newDiscord(t, rec)

	line := strings.Repeat("x", 99) + "\n"
	msg := strings.Repeat(line, 30)
	require.NoError(t, d.Send(context.Background(), msg))

	require.Len(t, rec.bodies, 2)
	assert.Equal(t, msg, strings.Join(rec.bodies, ""))
	for _, b := range rec.bodies {
		assert.LessOrEqual(t, utf8.RuneCountInString(b), DiscordMessageLimit)
	}
	assert.Equal(t, "Bot tok", rec.auth[0])
}

func TestDiscord_SendWithRetry(t *testing.T) {
	rec := &recorder{failures: 2}
	d := newDiscord(t, rec)

	require.NoError(t, d.SendWithRetry(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, rec.bodies)

	rec.failures = 5
	err := d.SendWithRetry(context.Background(), "again")
	assert.ErrorContains(t, err, "502")
}

func TestDiscord_SendWithRetryResendsOnlyFailedPart(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		bodies   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests++
		if requests == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		bodies = append(bodies, body.Content)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := NewDiscordNotifier("tok", "42", RetryPolicy{Attempts: 3}, nil)
	d.BaseURL = srv.URL

	line := strings.Repeat("x", 99) + "\n"
	msg := strings.Repeat(line, 30)
	require.NoError(t, d.SendWithRetry(context.Background(), msg))

	assert.Equal(t, 3, requests)
	require.Len(t, bodies, 2, "first part is posted once")
	assert.Equal(t, msg, strings.Join(bodies, ""))
}

func TestTelegram_Send(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	tg := NewTelegramNotifier("tok", "7", RetryPolicy{Attempts: 1}, nil)
	tg.BaseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "ping"))
	assert.Equal(t, []string{"ping"}, rec.bodies)
}

func TestRetryWithNotification(t *testing.T) {
	rec := &recorder{}
	d := newDiscord(t, rec)

	calls := 0
	err := d.RetryWithNotification(context.Background(), func() error {
		calls++
		return errors.New("upstream down")
	}, "volume refresh")
	assert.EqualError(t, err, "upstream down")
	assert.Equal(t, 3, calls)
	require.Len(t, rec.bodies, 1)
	assert.Contains(t, rec.bodies[0], "volume refresh failed after 3 attempts: upstream down")

	calls = 0
	require.NoError(t, d.RetryWithNotification(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	}, "x"))
	assert.Len(t, rec.bodies, 1, "no report on success")
}

type fakeNotifier struct {
	err  error
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, msg string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeNotifier) SendWithRetry(ctx context.Context, msg string) error { return f.Send(ctx, msg) }
func (f *fakeNotifier) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	return action()
}

func TestMulti(t *testing.T) {
	ok := &fakeNotifier{}
	bad := &fakeNotifier{err: errors.New("down")}

	m := NewMulti(RetryPolicy{Attempts: 1}, ok, bad)
	require.NoError(t, m.Send(context.Background(), "hi"), "one delivery is enough")
	assert.Equal(t, []string{"hi"}, ok.sent)

	allBad := NewMulti(RetryPolicy{Attempts: 1}, bad, &fakeNotifier{err: errors.New("also down")})
	err := allBad.SendWithRetry(context.Background(), "hi")
	assert.ErrorContains(t, err, "down")
	assert.ErrorContains(t, err, "also down")

	assert.NoError(t, NewMulti(RetryPolicy{}).Send(context.Background(), "nobody"))
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	assert.NoError(t, n.Send(context.Background(), "x"))
	assert.EqualError(t, n.RetryWithNotification(context.Background(), func() error { return errors.New("e") }, "d"), "e")
}
