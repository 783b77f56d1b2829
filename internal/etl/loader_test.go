package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"finsign-bi/internal/fetcher"
	"finsign-bi/internal/storage"
)

func newTestRunner(log storage.RunLog, n *recordingNotifier) *Runner {
	opts := RunnerOptions{NewRunID: func() string { return "00000000-0000-0000-0000-000000000001" }}
	if n == nil {
		return NewRunner(log, nil, noopLogger(), opts)
	}
	return NewRunner(log, n, noopLogger(), opts)
}

func ozonBatch(items ...string) fetcher.StockBatch {
	return fetcher.StockBatch{
		Pages: rawItems(`{"result":{"rows":[]}}`),
		Items: rawItems(items...),
	}
}

func TestOzonLoaderSkipsMalformedItem(t *testing.T) {
	items := make([]string, 0, 11)
	for i := 0; i < 10; i++ {
		items = append(items, fmt.Sprintf(`{"sku":"SKU-%d","quantity":1,"price":%d}`, i, 1000+i))
	}
	items = append(items, `{"sku":"SKU-broken","quantity":1}`)

	log := &memRunLog{}
	store := &memRawStore{}
	loader := NewOzonLoader(newTestRunner(log, nil), &stubOzonFetcher{batch: ozonBatch(items...)}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if res.Status != storage.StatusOK || res.RowsLoaded != 10 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.ozonRows) != 10 {
		t.Fatalf("expected 10 rows persisted, got %d", len(store.ozonRows))
	}
	if len(store.ozonPages) != 1 {
		t.Fatalf("audit page not persisted")
	}

	entry := log.only()
	if entry.Status != storage.StatusOK || entry.RowsLoaded != 10 || entry.FinishedAt == nil {
		t.Fatalf("unexpected log entry %+v", entry)
	}
	if entry.Message == nil || !strings.Contains(*entry.Message, "skipped 1 ") {
		t.Fatalf("message should state the skipped item: %v", entry.Message)
	}
	if entry.RunID != res.RunID || entry.Source != storage.SourceOzon {
		t.Fatalf("entry does not match result: %+v vs %+v", entry, res)
	}
}

func TestOzonLoaderSevenDaySnapshot(t *testing.T) {
	today := time.Now().UTC()
	items := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		day := today.AddDate(0, 0, i-6).Format(time.DateOnly)
		items = append(items, fmt.Sprintf(`{"date":"%s","sku":"CHAIR-%d","region":"Москва","quantity":1,"price":%d}`, day, i, 28990+2000*i))
	}

	log := &memRunLog{}
	store := &memRawStore{ozonRows: []storage.OzonStockRow{{SKU: "stale"}}}
	loader := NewOzonLoader(newTestRunner(log, nil), &stubOzonFetcher{batch: ozonBatch(items...)}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if res.RowsLoaded != 7 || len(store.ozonRows) != 7 {
		t.Fatalf("replace policy should leave exactly the new snapshot, got %d rows", len(store.ozonRows))
	}
	entry := log.only()
	if entry.Message != nil {
		t.Fatalf("clean run carries no message, got %q", *entry.Message)
	}
	if store.ozonRows[6].Price.String() != "40990" {
		t.Fatalf("unexpected last price %s", store.ozonRows[6].Price)
	}
}

func TestOzonLoaderEmptyResponse(t *testing.T) {
	log := &memRunLog{}
	store := &memRawStore{ozonRows: []storage.OzonStockRow{{SKU: "kept"}}}
	loader := NewOzonLoader(newTestRunner(log, nil), &stubOzonFetcher{}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if res.Status != storage.StatusOK || res.RowsLoaded != 0 {
		t.Fatalf("empty response is ok with zero rows, got %+v", res)
	}
	if store.saves != 0 || len(store.ozonRows) != 1 {
		t.Fatal("empty snapshot must not touch raw tables")
	}
	if entry := log.only(); entry.Status != storage.StatusOK || entry.RowsLoaded != 0 {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestOzonLoaderAllItemsRejectedKeepsSnapshot(t *testing.T) {
	log := &memRunLog{}
	store := &memRawStore{ozonRows: []storage.OzonStockRow{{SKU: "kept"}}}
	notifier := &recordingNotifier{}
	batch := ozonBatch(
		`{"sku":"A","quantity":1}`,
		`{"sku":"B","quantity":2}`,
		`{"sku":"C","quantity":3}`,
	)
	loader := NewOzonLoader(newTestRunner(log, notifier), &stubOzonFetcher{batch: batch}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if !res.Failed() || res.Fetched != 3 {
		t.Fatalf("a fully rejected snapshot must fail the run, got %+v", res)
	}
	if !strings.Contains(res.Message, "all 3 ozon item(s) rejected") || !strings.Contains(res.Message, "price is required") {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if store.saves != 0 || len(store.ozonRows) != 1 || store.ozonRows[0].SKU != "kept" {
		t.Fatalf("previous snapshot must survive, got %+v (saves=%d)", store.ozonRows, store.saves)
	}
	if entry := log.only(); entry.Status != storage.StatusError || entry.RowsLoaded != 0 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(notifier.failures) != 1 {
		t.Fatalf("failure should be notified, got %d", len(notifier.failures))
	}
}

func TestOzonLoaderFetchFailure(t *testing.T) {
	log := &memRunLog{}
	store := &memRawStore{}
	notifier := &recordingNotifier{}
	fetchErr := &fetcher.HTTPError{API: "ozon", StatusCode: 403, Body: "forbidden"}
	loader := NewOzonLoader(newTestRunner(log, notifier), &stubOzonFetcher{err: fetchErr}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("fetch failure must not escape the boundary: %v", err)
	}
	if !res.Failed() || res.RowsLoaded != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	entry := log.only()
	if entry.Status != storage.StatusError || entry.FinishedAt == nil || entry.RowsLoaded != 0 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Message == nil || !strings.Contains(*entry.Message, "403") {
		t.Fatalf("message should carry the error detail: %v", entry.Message)
	}
	if store.saves != 0 {
		t.Fatal("nothing should be persisted on fetch failure")
	}
	if len(notifier.failures) != 1 || notifier.failures[0].LogID != entry.ID {
		t.Fatalf("failure should be notified once, got %+v", notifier.failures)
	}
}

func TestOzonLoaderPersistenceFailure(t *testing.T) {
	log := &memRunLog{}
	store := &memRawStore{err: errors.New("connection reset")}
	loader := NewOzonLoader(newTestRunner(log, nil), &stubOzonFetcher{batch: ozonBatch(`{"sku":"1","price":1}`)}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := log.only()
	if entry.Status != storage.StatusError || entry.RowsLoaded != 0 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !strings.Contains(res.Message, "persist ozon stock") {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestOzonLoaderRecoversPanic(t *testing.T) {
	log := &memRunLog{}
	loader := NewOzonLoader(newTestRunner(log, nil), &stubOzonFetcher{panic: "boom"}, &memRawStore{}, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() {
		t.Fatalf("panic must end as error, got %+v", res)
	}
	if entry := log.only(); entry.Status != storage.StatusError || entry.Message == nil || !strings.Contains(*entry.Message, "boom") {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestRunnerFinalizesAfterCancellation(t *testing.T) {
	log := &memRunLog{}
	runner := newTestRunner(log, nil)
	ctx, cancel := context.WithCancel(context.Background())

	res, err := runner.Run(ctx, storage.SourceWB, "/x", func(ctx context.Context, _ zerolog.Logger) (Outcome, error) {
		cancel()
		return Outcome{}, ctx.Err()
	})
	if err != nil {
		t.Fatalf("finalization should use a detached context: %v", err)
	}
	if !res.Failed() || log.only().Status != storage.StatusError {
		t.Fatalf("cancelled run must end as error, got %+v", res)
	}
}

func TestOzonLoaderInterruptedMidFetch(t *testing.T) {
	log := &memRunLog{}
	store := &memRawStore{ozonRows: []storage.OzonStockRow{{SKU: "kept"}}}
	f := &blockingOzonFetcher{started: make(chan struct{})}
	loader := NewOzonLoader(newTestRunner(log, nil), f, store, storage.Replace, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.started
		cancel()
	}()

	res, err := loader.Load(ctx, OzonOptions{})
	if err != nil {
		t.Fatalf("interrupted run should still be finalized: %v", err)
	}
	if !res.Failed() || !strings.Contains(res.Message, context.Canceled.Error()) {
		t.Fatalf("interrupted run must end as error, got %+v", res)
	}
	entry := log.only()
	if entry.Status != storage.StatusError || entry.FinishedAt == nil {
		t.Fatalf("etl_log entry must be terminal, got %+v", entry)
	}
	if store.saves != 0 || len(store.ozonRows) != 1 {
		t.Fatal("interrupted run must not touch raw tables")
	}
}

func TestRunnerStartFailure(t *testing.T) {
	log := &memRunLog{startErr: errors.New("db down")}
	runner := newTestRunner(log, nil)

	called := false
	_, err := runner.Run(context.Background(), storage.SourceOzon, "/x", func(context.Context, zerolog.Logger) (Outcome, error) {
		called = true
		return Outcome{}, nil
	})
	if err == nil {
		t.Fatal("start failure should be returned")
	}
	if called {
		t.Fatal("work must not run without a log entry")
	}
}

func TestRunnerFinalizeFailure(t *testing.T) {
	log := &memRunLog{finishErr: storage.ErrRunNotRunning}
	runner := newTestRunner(log, nil)

	_, err := runner.Run(context.Background(), storage.SourceOzon, "/x", func(context.Context, zerolog.Logger) (Outcome, error) {
		return Outcome{Rows: 1}, nil
	})
	if !errors.Is(err, storage.ErrRunNotRunning) {
		t.Fatalf("expected finalize error, got %v", err)
	}
	if log.finishes != 1 {
		t.Fatalf("finalize attempted %d times", log.finishes)
	}
}

func TestOzonLoaderDryRun(t *testing.T) {
	log := &memRunLog{}
	store := &memRawStore{}
	loader := NewOzonLoader(newTestRunner(log, nil), &stubOzonFetcher{batch: ozonBatch(`{"sku":"1","price":1}`, `{"sku":"2"}`)}, store, storage.Replace, noopLogger())

	res, err := loader.Load(context.Background(), OzonOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.DryRun || res.RowsLoaded != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(log.entries) != 0 || store.saves != 0 {
		t.Fatal("dry run must not write anything")
	}
}

func TestWBLoaderAppendsDuplicates(t *testing.T) {
	line := `{"sale_dt":"2025-10-03T10:00:00","supplierArticle":"ART-1","regionName":"Казань","quantity":1,"retail_price":500}`
	f := &stubWBFetcher{items: rawItems(line, line)}
	store := &memRawStore{wbRows: []storage.WBSalesRow{{SKU: "earlier"}}}
	log := &memRunLog{}
	loader := NewWBLoader(newTestRunner(log, nil), f, store, storage.Append, noopLogger())

	from := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 10, 7, 0, 0, 0, 0, time.UTC)
	res, err := loader.Load(context.Background(), WBOptions{From: from, To: to})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RowsLoaded != 2 || len(store.wbRows) != 3 {
		t.Fatalf("append should keep earlier rows and both duplicates, got %d", len(store.wbRows))
	}
	if !f.from.Equal(from) || !f.to.Equal(to) {
		t.Fatalf("window not passed through: %v..%v", f.from, f.to)
	}
	if entry := log.only(); entry.Source != storage.SourceWB || entry.Status != storage.StatusOK {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestWBLoaderInvertedWindow(t *testing.T) {
	log := &memRunLog{}
	f := &stubWBFetcher{}
	loader := NewWBLoader(newTestRunner(log, nil), f, &memRawStore{}, storage.Append, noopLogger())

	to := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	res, err := loader.Load(context.Background(), WBOptions{From: to.AddDate(0, 0, 1), To: to})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() || log.only().Status != storage.StatusError {
		t.Fatalf("inverted window should be logged as error, got %+v", res)
	}
}

func TestWBLoaderEmptyReport(t *testing.T) {
	log := &memRunLog{}
	loader := NewWBLoader(newTestRunner(log, nil), &stubWBFetcher{}, &memRawStore{}, storage.Append, noopLogger())

	res, err := loader.Load(context.Background(), WBOptions{From: time.Now().AddDate(0, 0, -7), To: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != storage.StatusOK || res.RowsLoaded != 0 {
		t.Fatalf("empty report is ok with zero rows, got %+v", res)
	}
}
