// Package db
package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/amirphl/depth-analytics/internal/db/conf"
	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/volume"
)

// ErrNotFound is returned by the Latest* lookups when nothing is stored.
var ErrNotFound = errors.New("not found")

// DepthStore persists depth pipeline runs with their interval rows.
type DepthStore interface {
	SaveDepthRun(ctx context.Context, run depth.Run) error
	LatestDepthRun(ctx context.Context, symbol string) (*depth.Run, error)
	// ListDepthRuns returns run headers, newest first, without results.
	ListDepthRuns(ctx context.Context, symbol string, limit int) ([]depth.Run, error)
}

type VolumeStore interface {
	SaveVolumeSnapshot(ctx context.Context, s volume.Snapshot) error
	LatestVolumeSnapshot(ctx context.Context) (*volume.Snapshot, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	DepthStore
	VolumeStore
	journal.Journaler
	Close() error
}

// DriverMemory selects the in-process storage.
const DriverMemory = "memory"

// Open returns the storage for driver, migrating SQL schemas.
func Open(ctx context.Context, driver, connStr string, maxOpen, maxIdle int) (Storage, error) {
	if driver == DriverMemory || driver == "" {
		return NewMemory(), nil
	}

	c, err := conf.NewConfig(driver, connStr, maxOpen, maxIdle)
	if err != nil {
		return nil, err
	}
	s, err := New(*c)
	if err != nil {
		c.DB.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
