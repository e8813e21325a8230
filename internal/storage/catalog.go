package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured indicates the catalog pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertCollectionRunSQL = `INSERT INTO collection_runs (
        symbol,
        kind,
        status,
        row_count,
        started_at,
        finished_at,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id;`

	listRecentRunsSQL = `SELECT
        id,
        symbol,
        kind,
        status,
        row_count,
        started_at,
        finished_at,
        error
    FROM collection_runs
    ORDER BY finished_at DESC
    LIMIT $1;`

	upsertMinuteBarSQL = `INSERT INTO minute_bars (
        symbol,
        bar_ts,
        open,
        high,
        low,
        close,
        volume,
        tick_count,
        typical_price
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (symbol, bar_ts) DO UPDATE
    SET
        open          = EXCLUDED.open,
        high          = EXCLUDED.high,
        low           = EXCLUDED.low,
        close         = EXCLUDED.close,
        volume        = EXCLUDED.volume,
        tick_count    = EXCLUDED.tick_count,
        typical_price = EXCLUDED.typical_price;`

	listBarsBetweenSQL = `SELECT
        symbol,
        bar_ts,
        open,
        high,
        low,
        close,
        volume,
        tick_count,
        typical_price
    FROM minute_bars
    WHERE symbol = $1
      AND bar_ts >= $2
      AND bar_ts < $3
    ORDER BY bar_ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines catalog operations for collection runs.
type RunStore interface {
	InsertRun(ctx context.Context, run CollectionRun) (int64, error)
	ListRecentRuns(ctx context.Context, limit int) ([]CollectionRun, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Catalog records collection runs and sealed minute bars in PostgreSQL. It
// is optional; the file sink alone is sufficient for collection.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog wires a pgx pool into a Catalog.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// Close releases the underlying pool resources.
func (c *Catalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

func (c *Catalog) getPool() (*pgxpool.Pool, error) {
	if c == nil || c.pool == nil {
		return nil, ErrNotConfigured
	}
	return c.pool, nil
}

// InsertRun persists one collection outcome.
func (c *Catalog) InsertRun(ctx context.Context, run CollectionRun) (int64, error) {
	pool, err := c.getPool()
	if err != nil {
		return 0, err
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertCollectionRunSQL,
		run.Symbol,
		run.Kind,
		run.Status,
		run.Rows,
		run.StartedAt,
		run.FinishedAt,
		errMsg,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert collection run: %w", scanErr)
	}
	return id, nil
}

// ListRecentRuns lists the most recent runs ordered by descending finish time.
func (c *Catalog) ListRecentRuns(ctx context.Context, limit int) ([]CollectionRun, error) {
	pool, err := c.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]CollectionRun, 0, limit)
	for rows.Next() {
		var run CollectionRun
		var errMsg *string
		if scanErr := rows.Scan(
			&run.ID,
			&run.Symbol,
			&run.Kind,
			&run.Status,
			&run.Rows,
			&run.StartedAt,
			&run.FinishedAt,
			&errMsg,
		); scanErr != nil {
			return nil, fmt.Errorf("scan collection run: %w", scanErr)
		}
		run.Error = errMsg
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// UpsertMinuteBar persists a sealed minute bar.
func (c *Catalog) UpsertMinuteBar(ctx context.Context, row BarRow) error {
	pool, err := c.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertMinuteBarSQL,
		row.Symbol,
		time.UnixMicro(row.Timestamp).UTC(),
		row.Open,
		row.High,
		row.Low,
		row.Close,
		row.Volume,
		row.TickCount,
		row.TypicalPrice,
	)
	if execErr != nil {
		return fmt.Errorf("upsert minute bar: %w", execErr)
	}
	return nil
}

// ListBarsBetween lists bars for a symbol within a time window.
func (c *Catalog) ListBarsBetween(ctx context.Context, symbol string, from, to time.Time) ([]BarRow, error) {
	pool, err := c.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBarsBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list bars between: %w", queryErr)
	}
	defer rows.Close()

	bars := make([]BarRow, 0)
	for rows.Next() {
		var row BarRow
		var barTS time.Time
		if scanErr := rows.Scan(
			&row.Symbol,
			&barTS,
			&row.Open,
			&row.High,
			&row.Low,
			&row.Close,
			&row.Volume,
			&row.TickCount,
			&row.TypicalPrice,
		); scanErr != nil {
			return nil, fmt.Errorf("scan minute bar: %w", scanErr)
		}
		row.Timestamp = barTS.UTC().UnixMicro()
		row.Timeframe = "M1"
		bars = append(bars, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bars, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Two collectors racing for the same job see exactly one win.
func (c *Catalog) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := c.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ RunStore       = (*Catalog)(nil)
	_ AdvisoryLocker = (*Catalog)(nil)
)
