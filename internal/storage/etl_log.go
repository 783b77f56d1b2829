package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	startRunSQL = `INSERT INTO raw.etl_log (run_id, source, endpoint, status)
    VALUES ($1, $2, $3, 'running')
    RETURNING id;`

	finishRunSQL = `UPDATE raw.etl_log
    SET finished_at = now(),
        status      = $2,
        rows_loaded = $3,
        message     = $4
    WHERE id = $1
      AND status = 'running';`

	listRecentRunsSQL = `SELECT
        id,
        COALESCE(run_id::text, ''),
        source,
        endpoint,
        started_at,
        finished_at,
        status,
        rows_loaded,
        message
    FROM raw.etl_log
    ORDER BY id DESC
    LIMIT $1;`

	reapStaleRunsSQL = `UPDATE raw.etl_log
    SET finished_at = now(),
        status      = 'error',
        message     = $2
    WHERE status = 'running'
      AND started_at < $1;`
)

// StartRun inserts a running entry and returns its id.
func (s *Store) StartRun(ctx context.Context, source Source, endpoint, runID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := pool.QueryRow(ctx, startRunSQL, nullableText(runID), string(source), endpoint).Scan(&id); err != nil {
		return 0, fmt.Errorf("start etl run: %w", err)
	}
	return id, nil
}

// FinishRun moves a running entry to a terminal status. It succeeds at most once per entry.
func (s *Store) FinishRun(ctx context.Context, id int64, status RunStatus, rowsLoaded int, message *string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish etl run: %q is not a terminal status", status)
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var msg any
	if message != nil {
		msg = *message
	}

	cmdTag, execErr := pool.Exec(ctx, finishRunSQL, id, string(status), rowsLoaded, msg)
	if execErr != nil {
		return fmt.Errorf("finish etl run: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("finish etl run %d: %w", id, ErrRunNotRunning)
	}
	return nil
}

// ListRecentRuns lists the newest entries first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]EtlLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]EtlLogEntry, 0, limit)
	for rows.Next() {
		var (
			entry    EtlLogEntry
			source   string
			status   string
			finished sql.NullTime
			message  sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&source,
			&entry.Endpoint,
			&entry.StartedAt,
			&finished,
			&status,
			&entry.RowsLoaded,
			&message,
		); err != nil {
			return nil, err
		}

		entry.Source = Source(source)
		entry.Status = RunStatus(status)
		if finished.Valid {
			at := finished.Time
			entry.FinishedAt = &at
		}
		if message.Valid {
			msg := message.String
			entry.Message = &msg
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// ReapStaleRuns marks running entries started before the cutoff as errored.
func (s *Store) ReapStaleRuns(ctx context.Context, startedBefore time.Time, message string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, reapStaleRunsSQL, startedBefore, message)
	if execErr != nil {
		return 0, fmt.Errorf("reap stale runs: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}
