package db

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/google/uuid"
)

type MemoryStorage struct {
	mu sync.RWMutex

	// Depth runs by upper-cased symbol, in insertion order
	runs map[string][]depth.Run

	// Volume snapshots (append-only)
	snapshots []volume.Snapshot

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		runs:   make(map[string][]depth.Run),
		events: make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

func (m *MemoryStorage) Close() error { return nil }

// -------- DepthStore --------

func cloneRun(r depth.Run, withResults bool) depth.Run {
	if !withResults {
		r.Results = nil
		return r
	}
	results := make([]depth.IntervalResult, len(r.Results))
	copy(results, r.Results)
	r.Results = results
	return r
}

func (m *MemoryStorage) SaveDepthRun(ctx context.Context, run depth.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	key := strings.ToUpper(run.Symbol)
	m.runs[key] = append(m.runs[key], cloneRun(run, true))
	return nil
}

// sortedRuns returns the symbol's runs newest first. Caller holds the lock.
func (m *MemoryStorage) sortedRuns(symbol string) []depth.Run {
	runs := append([]depth.Run(nil), m.runs[strings.ToUpper(symbol)]...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs
}

func (m *MemoryStorage) LatestDepthRun(ctx context.Context, symbol string) (*depth.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.sortedRuns(symbol)
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	r := cloneRun(runs[0], true)
	return &r, nil
}

func (m *MemoryStorage) ListDepthRuns(ctx context.Context, symbol string, limit int) ([]depth.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	runs := m.sortedRuns(symbol)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]depth.Run, 0, len(runs))
	for _, r := range runs {
		out = append(out, cloneRun(r, false))
	}
	return out, nil
}

// -------- VolumeStore --------

func (m *MemoryStorage) SaveVolumeSnapshot(ctx context.Context, s volume.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *MemoryStorage) LatestVolumeSnapshot(ctx context.Context) (*volume.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return nil, ErrNotFound
	}
	latest := m.snapshots[0]
	for _, s := range m.snapshots[1:] {
		if !s.LastUpdated.Before(latest.LastUpdated) {
			latest = s
		}
	}
	return &latest, nil
}

// -------- Journaler --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && !e.Time.After(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
