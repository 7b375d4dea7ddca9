package service

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) SendWithRetry(ctx context.Context, msg string) error {
	return n.Send(ctx, msg)
}

func (n *recordingNotifier) RetryWithNotification(ctx context.Context, action func() error, description string) error {
	return action()
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

// writeArchive stores csv as the only member of a .tar.gz in a temp dir.
func writeArchive(t *testing.T, csv string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "depth.csv", Mode: 0644, Size: int64(len(csv)), Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "BTCUSDT-S_DEPTH.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func fixedNow(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
