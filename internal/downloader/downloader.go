// Package downloader fetches Binance order-book archives, walking back one
// day at a time until a published archive is found or the attempt budget
// is spent.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/amirphl/depth-analytics/internal/exchange"
	"github.com/amirphl/depth-analytics/internal/metrics"
	"github.com/amirphl/depth-analytics/internal/tfutils"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/sirupsen/logrus"
)

// ErrNoData is returned once every attempt failed to produce an archive.
var ErrNoData = errors.New("no data available")

var (
	// errNotPublished marks an attempt whose window has no archive yet.
	errNotPublished = errors.New("archive not published")
	// errUnusable marks an archive the process hook rejected.
	errUnusable = errors.New("archive unusable")
)

const (
	DefaultMaxAttempts = 3
	// PublishHourUTC is the hour after which yesterday's archive is expected.
	PublishHourUTC = 8
)

// LinkSource resolves archive links for a window.
type LinkSource interface {
	HistDataLinks(ctx context.Context, symbol string, start, end time.Time, dataType string) ([]exchange.HistDataLink, error)
}

type Config struct {
	Dir         string
	MaxAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// KeepDayOnError retries the same day after transport errors. Missing
	// or rejected archives always shift the day.
	KeepDayOnError bool
	HTTPClient     *http.Client
}

type Request struct {
	Symbol   string
	DataType string
	Start    time.Time
	End      time.Time
}

type Result struct {
	Path     string
	Start    time.Time
	End      time.Time
	Attempts int
}

type Downloader struct {
	links   LinkSource
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
}

func New(links LinkSource, cfg Config, m *metrics.Metrics) *Downloader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dir == "" {
		cfg.Dir = "downloads"
	}
	c := cfg.HTTPClient
	if c == nil {
		c = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Downloader{links: links, cfg: cfg, http: c, metrics: m}
}

// LatestAvailableDate is the most recent day whose archive should exist:
// two days back before 08:00 UTC, otherwise yesterday.
func LatestAvailableDate(now time.Time) time.Time {
	now = now.UTC()
	back := 1
	if now.Hour() < PublishHourUTC {
		back = 2
	}
	return tfutils.StartOfDay(now.AddDate(0, 0, -back))
}

// LatestWindow returns the one-day window ending at midnight of the latest
// available date.
func LatestWindow(now time.Time) (start, end time.Time) {
	end = LatestAvailableDate(now)
	return end.AddDate(0, 0, -1), end
}

// Fetch downloads the archive for req, shifting the window back a day after
// every failed attempt. It returns ErrNoData when attempts run out.
func (d *Downloader) Fetch(ctx context.Context, req Request) (Result, error) {
	return d.FetchAndProcess(ctx, req, nil)
}

// FetchAndProcess is Fetch with a hook run on every downloaded archive. A
// hook error consumes the attempt like an unpublished archive does.
func (d *Downloader) FetchAndProcess(ctx context.Context, req Request, process func(Result) error) (Result, error) {
	start, end := req.Start, req.End
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := d.attempt(ctx, req, start, end)
		if err == nil {
			res.Attempts = attempt
			if process != nil {
				err = process(res)
				if err != nil {
					err = fmt.Errorf("%w: %v", errUnusable, err)
				}
			}
		}
		if err == nil {
			d.metrics.DownloadAttempt("ok")
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		shift := !d.cfg.KeepDayOnError
		switch {
		case errors.Is(err, errNotPublished):
			shift = true
			d.metrics.DownloadAttempt("empty")
		case errors.Is(err, errUnusable):
			shift = true
			d.metrics.DownloadAttempt("invalid")
		default:
			d.metrics.DownloadAttempt("error")
		}
		utils.GetLogger().WithFields(logrus.Fields{
			"symbol":  req.Symbol,
			"attempt": attempt,
			"start":   start.Format(time.DateOnly),
			"end":     end.Format(time.DateOnly),
		}).Warnf("Downloader | attempt failed: %v", err)

		if shift {
			start = start.AddDate(0, 0, -1)
			end = end.AddDate(0, 0, -1)
		}

		if attempt < d.cfg.MaxAttempts && d.cfg.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(d.cfg.RetryDelay):
			}
		}
	}

	utils.GetLogger().Errorf("Downloader | no data for %s after %d attempts", req.Symbol, d.cfg.MaxAttempts)
	return Result{}, ErrNoData
}

func (d *Downloader) attempt(ctx context.Context, req Request, start, end time.Time) (Result, error) {
	links, err := d.links.HistDataLinks(ctx, req.Symbol, start, end, req.DataType)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get download link: %w", err)
	}
	if len(links) == 0 || links[0].URL == "" {
		return Result{}, errNotPublished
	}

	p, err := DownloadFile(ctx, d.http, links[0].URL, d.cfg.Dir)
	if err != nil {
		return Result{}, err
	}
	utils.GetLogger().Infof("Downloader | saved %s for %s", p, start.Format(time.DateOnly))
	return Result{Path: p, Start: start, End: end}, nil
}

// DownloadFile streams rawURL into dir, naming the file after the last path
// segment of the URL. dir is created when missing.
func DownloadFile(ctx context.Context, client *http.Client, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid download url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("download url %q has no file name", rawURL)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	dest := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	return dest, nil
}
