package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/db/conf"
	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, p.rebind(query), args...)
	}
	return p.db.QueryContext(ctx, p.rebind(query), args...)
}

func (p *Default) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, p.rebind(query), args...)
	}
	return p.db.QueryRowContext(ctx, p.rebind(query), args...)
}

var dollarParam = regexp.MustCompile(`\$(\d+)`)

// rebind turns $n placeholders into ?n for SQLite. Queries are written in
// Postgres form.
func (p *Default) rebind(query string) string {
	if p.driver != conf.DriverSQLite {
		return query
	}
	return dollarParam.ReplaceAllString(query, "?$1")
}

// Default is the SQL storage shared by the Postgres and SQLite drivers.
type Default struct {
	db     *sql.DB
	driver string
}

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, errors.New("db: nil connection")
	}
	switch c.Driver {
	case conf.DriverPostgres, conf.DriverSQLite:
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
	return &Default{db: c.DB, driver: c.Driver}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

func (p *Default) Close() error {
	return p.db.Close()
}

// Migrate applies the embedded schema statement by statement. It is safe to
// run repeatedly.
func (p *Default) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %s: %w", stmt, err)
		}
	}
	return nil
}

// nullRatio stores infinite and NaN ratios as NULL.
func nullRatio(r depth.Ratio) sql.NullFloat64 {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func ratioFromNull(n sql.NullFloat64) depth.Ratio {
	if !n.Valid {
		return depth.Ratio(math.Inf(1))
	}
	return depth.Ratio(n.Float64)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// -------- DepthStore --------

func (p *Default) SaveDepthRun(ctx context.Context, run depth.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, p.rebind(`INSERT INTO depth_runs
			(id, symbol, data_type, start_ms, end_ms, source_path, attempts, tick_count, created_ms)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
			run.ID, run.Symbol, run.DataType, run.Start.UnixMilli(), run.End.UnixMilli(),
			run.SourcePath, run.Attempts, run.TickCount, run.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to save depth run: %w", err)
		}

		if len(run.Results) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, p.rebind(`INSERT INTO depth_intervals
			(run_id, interval_start_ms, interval_end_ms, close_price, ask_qty_sum, bid_qty_sum,
			 depth_ratio, total_qty_within_1pct, total_qty_within_5pct, tick_count, relative_ratio_percent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`))
		if err != nil {
			return fmt.Errorf("failed to prepare interval insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range run.Results {
			_, err := stmt.ExecContext(ctx,
				run.ID, r.IntervalStart.UnixMilli(), r.IntervalEnd.UnixMilli(), r.ClosePrice,
				r.AskQtySum, r.BidQtySum, nullRatio(r.DepthRatio), r.TotalQtyWithin1Pct,
				r.TotalQtyWithin5Pct, r.TickCount, nullRatio(r.RelativeRatioPercent))
			if err != nil {
				return fmt.Errorf("failed to save interval %s: %w", r.IntervalStart.Format(time.RFC3339), err)
			}
		}
		return nil
	})
}

const depthRunColumns = `id, symbol, data_type, start_ms, end_ms, source_path, attempts, tick_count, created_ms`

func scanDepthRun(scan func(dest ...any) error) (depth.Run, error) {
	var run depth.Run
	var startMs, endMs, createdMs int64
	err := scan(&run.ID, &run.Symbol, &run.DataType, &startMs, &endMs, &run.SourcePath,
		&run.Attempts, &run.TickCount, &createdMs)
	if err != nil {
		return depth.Run{}, err
	}
	run.Start = fromMillis(startMs)
	run.End = fromMillis(endMs)
	run.CreatedAt = fromMillis(createdMs)
	return run, nil
}

func (p *Default) LatestDepthRun(ctx context.Context, symbol string) (*depth.Run, error) {
	row := p.queryRowWithTransaction(ctx, `SELECT `+depthRunColumns+` FROM depth_runs
		WHERE symbol=$1 ORDER BY created_ms DESC LIMIT 1`, symbol)
	run, err := scanDepthRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest depth run: %w", err)
	}

	results, err := p.depthIntervals(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return &run, nil
}

func (p *Default) depthIntervals(ctx context.Context, runID string) ([]depth.IntervalResult, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT interval_start_ms, interval_end_ms, close_price,
		ask_qty_sum, bid_qty_sum, depth_ratio, total_qty_within_1pct, total_qty_within_5pct,
		tick_count, relative_ratio_percent
		FROM depth_intervals WHERE run_id=$1 ORDER BY interval_start_ms ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get depth intervals: %w", err)
	}
	defer rows.Close()

	results := []depth.IntervalResult{}
	for rows.Next() {
		var r depth.IntervalResult
		var startMs, endMs int64
		var ratio, rel sql.NullFloat64
		if err := rows.Scan(&startMs, &endMs, &r.ClosePrice, &r.AskQtySum, &r.BidQtySum, &ratio,
			&r.TotalQtyWithin1Pct, &r.TotalQtyWithin5Pct, &r.TickCount, &rel); err != nil {
			return nil, fmt.Errorf("failed to scan depth interval: %w", err)
		}
		r.IntervalStart = fromMillis(startMs)
		r.IntervalEnd = fromMillis(endMs)
		r.DepthRatio = ratioFromNull(ratio)
		r.RelativeRatioPercent = ratioFromNull(rel)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (p *Default) ListDepthRuns(ctx context.Context, symbol string, limit int) ([]depth.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.queryWithTransaction(ctx, `SELECT `+depthRunColumns+` FROM depth_runs
		WHERE symbol=$1 ORDER BY created_ms DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list depth runs: %w", err)
	}
	defer rows.Close()

	var runs []depth.Run
	for rows.Next() {
		run, err := scanDepthRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan depth run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// -------- VolumeStore --------

func (p *Default) SaveVolumeSnapshot(ctx context.Context, s volume.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode volume snapshot: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, p.rebind(`INSERT INTO volume_snapshots (id, last_updated_ms, payload) VALUES ($1,$2,$3)`),
			uuid.NewString(), s.LastUpdated.UnixMilli(), string(payload))
		if err != nil {
			return fmt.Errorf("failed to save volume snapshot: %w", err)
		}
		return nil
	})
}

func (p *Default) LatestVolumeSnapshot(ctx context.Context) (*volume.Snapshot, error) {
	var payload string
	err := p.queryRowWithTransaction(ctx, `SELECT payload FROM volume_snapshots ORDER BY last_updated_ms DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get volume snapshot: %w", err)
	}

	var s volume.Snapshot
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("failed to decode volume snapshot: %w", err)
	}
	return &s, nil
}

// -------- Journaler --------

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, _ := json.Marshal(event.Data)
		_, err := tx.ExecContext(ctx, p.rebind(`INSERT INTO events (time_ms, type, description, data) VALUES ($1,$2,$3,$4)`),
			event.Time.UnixMilli(), event.Type, event.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time_ms, type, description, data FROM events
		WHERE type=$1 AND time_ms >= $2 AND time_ms <= $3 ORDER BY time_ms ASC`,
		eventType, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var ms int64
		var data sql.NullString
		if err := rows.Scan(&ms, &e.Type, &e.Description, &data); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			json.Unmarshal([]byte(data.String), &e.Data)
		}
		e.Time = fromMillis(ms)
		events = append(events, e)
	}
	return events, rows.Err()
}
