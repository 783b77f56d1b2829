package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotRunning is returned when finalizing an entry that already reached a terminal status.
	ErrRunNotRunning = errors.New("storage: etl_log entry is not running")
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	insertBatchSize = 1000
)

// RunLog records the lifecycle of ETL runs in raw.etl_log.
type RunLog interface {
	StartRun(ctx context.Context, source Source, endpoint, runID string) (int64, error)
	FinishRun(ctx context.Context, id int64, status RunStatus, rowsLoaded int, message *string) error
}

// RunReader lists etl_log entries.
type RunReader interface {
	ListRecentRuns(ctx context.Context, limit int) ([]EtlLogEntry, error)
}

// RunReaper closes entries left in running state.
type RunReaper interface {
	ReapStaleRuns(ctx context.Context, startedBefore time.Time, message string) (int64, error)
}

// OzonStockStore lands Ozon stock snapshots.
type OzonStockStore interface {
	SaveOzonStock(ctx context.Context, batch OzonStockBatch, policy WritePolicy) (int, error)
}

// WBSalesStore lands WB sales lines.
type WBSalesStore interface {
	SaveWBSales(ctx context.Context, rows []WBSalesRow, policy WritePolicy) (int, error)
}

// MartStore reads raw aggregates and swaps mart.fact_sales.
type MartStore interface {
	SalesLines(ctx context.Context) ([]SalesLine, error)
	ReplaceFactSales(ctx context.Context, rows []FactSalesRow) (int, error)
}

// KPIReader queries mart.vw_kpi.
type KPIReader interface {
	ListKPI(ctx context.Context, from, to time.Time) ([]KPIRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of every storage interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
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
		// the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, fn)
}

// execBatched queues one statement per argument set and sends them in chunks.
func execBatched(ctx context.Context, tx pgx.Tx, query string, args [][]any) error {
	for start := 0; start < len(args); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(args) {
			end = len(args)
		}

		batch := &pgx.Batch{}
		for _, a := range args[start:end] {
			batch.Queue(query, a...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		if err := results.Close(); err != nil {
			return err
		}
	}
	return nil
}

func nullableText(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var (
	_ RunLog         = (*Store)(nil)
	_ RunReader      = (*Store)(nil)
	_ RunReaper      = (*Store)(nil)
	_ OzonStockStore = (*Store)(nil)
	_ WBSalesStore   = (*Store)(nil)
	_ MartStore      = (*Store)(nil)
	_ KPIReader      = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
