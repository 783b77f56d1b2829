package etl

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"finsign-bi/internal/alerting"
	"finsign-bi/internal/fetcher"
	"finsign-bi/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type memRunLog struct {
	mu        sync.Mutex
	entries   []storage.EtlLogEntry
	startErr  error
	finishErr error
	finishes  int
}

func (m *memRunLog) StartRun(_ context.Context, source storage.Source, endpoint, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return 0, m.startErr
	}
	id := int64(len(m.entries) + 1)
	m.entries = append(m.entries, storage.EtlLogEntry{
		ID:        id,
		RunID:     runID,
		Source:    source,
		Endpoint:  endpoint,
		StartedAt: time.Now().UTC(),
		Status:    storage.StatusRunning,
	})
	return id, nil
}

func (m *memRunLog) FinishRun(ctx context.Context, id int64, status storage.RunStatus, rows int, message *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.finishErr != nil {
		return m.finishErr
	}
	entry := &m.entries[id-1]
	if entry.Status != storage.StatusRunning {
		return storage.ErrRunNotRunning
	}
	now := time.Now().UTC()
	entry.Status = status
	entry.FinishedAt = &now
	entry.RowsLoaded = rows
	entry.Message = message
	return nil
}

func (m *memRunLog) only() storage.EtlLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) != 1 {
		panic("expected exactly one etl_log entry")
	}
	return m.entries[0]
}

type stubOzonFetcher struct {
	batch fetcher.StockBatch
	err   error
	panic any
	calls int
}

func (s *stubOzonFetcher) Endpoint() string { return "/v2/analytics/stock_on_warehouses" }

func (s *stubOzonFetcher) FetchStock(context.Context) (fetcher.StockBatch, error) {
	s.calls++
	if s.panic != nil {
		panic(s.panic)
	}
	return s.batch, s.err
}

// blockingOzonFetcher waits for ctx the way a slow marketplace request does.
type blockingOzonFetcher struct {
	started chan struct{}
}

func (b *blockingOzonFetcher) Endpoint() string { return "/v2/analytics/stock_on_warehouses" }

func (b *blockingOzonFetcher) FetchStock(ctx context.Context) (fetcher.StockBatch, error) {
	close(b.started)
	<-ctx.Done()
	return fetcher.StockBatch{}, ctx.Err()
}

type stubWBFetcher struct {
	items    []json.RawMessage
	err      error
	from, to time.Time
}

func (s *stubWBFetcher) Endpoint() string { return "/api/v5/supplier/reportDetailByPeriod" }

func (s *stubWBFetcher) FetchSales(_ context.Context, from, to time.Time) ([]json.RawMessage, error) {
	s.from, s.to = from, to
	return s.items, s.err
}

// memRawStore keeps raw rows in memory with transactional semantics: a failed save changes nothing.
type memRawStore struct {
	ozonPages []json.RawMessage
	ozonRows  []storage.OzonStockRow
	wbRows    []storage.WBSalesRow
	err       error
	saves     int
}

func (m *memRawStore) SaveOzonStock(_ context.Context, batch storage.OzonStockBatch, policy storage.WritePolicy) (int, error) {
	m.saves++
	if m.err != nil {
		return 0, m.err
	}
	m.ozonPages = append(m.ozonPages, batch.Pages...)
	if policy == storage.Replace {
		m.ozonRows = nil
	}
	m.ozonRows = append(m.ozonRows, batch.Rows...)
	return len(batch.Rows), nil
}

func (m *memRawStore) SaveWBSales(_ context.Context, rows []storage.WBSalesRow, policy storage.WritePolicy) (int, error) {
	m.saves++
	if m.err != nil {
		return 0, m.err
	}
	if policy == storage.Replace {
		m.wbRows = nil
	}
	m.wbRows = append(m.wbRows, rows...)
	return len(rows), nil
}

type recordingNotifier struct {
	failures []alerting.RunFailure
}

func (r *recordingNotifier) Notify(_ context.Context, f alerting.RunFailure) error {
	r.failures = append(r.failures, f)
	return errors.New("notifier offline")
}

func rawItems(docs ...string) []json.RawMessage {
	items := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		items = append(items, json.RawMessage(d))
	}
	return items
}
