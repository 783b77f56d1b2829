package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"finsign-bi/internal/etl"
	"finsign-bi/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTriggers struct {
	wbOpts     etl.WBOptions
	ozonOpts   etl.OzonOptions
	status     storage.RunStatus
	rebuildErr error
}

func (f *fakeTriggers) LoadOzon(_ context.Context, opts etl.OzonOptions) (etl.Result, error) {
	f.ozonOpts = opts
	return etl.Result{LogID: 1, Source: storage.SourceOzon, Status: f.status, DryRun: opts.DryRun}, nil
}

func (f *fakeTriggers) LoadWB(_ context.Context, opts etl.WBOptions) (etl.Result, error) {
	f.wbOpts = opts
	return etl.Result{LogID: 2, Source: storage.SourceWB, Status: f.status}, nil
}

func (f *fakeTriggers) DefaultWBWindow() (time.Time, time.Time) {
	to := time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, 0, -7), to
}

func (f *fakeTriggers) RebuildMart(context.Context) (etl.Result, error) {
	if f.rebuildErr != nil {
		return etl.Result{LogID: 3, Status: storage.StatusError}, f.rebuildErr
	}
	return etl.Result{LogID: 3, Source: storage.SourceMart, Status: storage.StatusOK, RowsLoaded: 7}, nil
}

func (f *fakeTriggers) ReapStale(context.Context) (int64, error) { return 1, nil }

type fakeReader struct {
	from, to time.Time
	limit    int
}

func (f *fakeReader) ListKPI(_ context.Context, from, to time.Time) ([]storage.KPIRow, error) {
	f.from, f.to = from, to
	half := decimal.RequireFromString("0.5")
	return []storage.KPIRow{
		{Date: from, Marketplace: "ozon", Revenue: decimal.NewFromInt(100), Cost: decimal.NewFromInt(50), Profit: decimal.NewFromInt(50), Margin: &half},
		{Date: from, Marketplace: "wb", Revenue: decimal.Zero, Cost: decimal.Zero, Profit: decimal.Zero},
	}, nil
}

func (f *fakeReader) ListRecentRuns(_ context.Context, limit int) ([]storage.EtlLogEntry, error) {
	f.limit = limit
	msg := "skipped 1 of 11 item(s)"
	return []storage.EtlLogEntry{{ID: 9, Source: storage.SourceOzon, Status: storage.StatusOK, RowsLoaded: 10, Message: &msg}}, nil
}

func newTestServer(triggers *fakeTriggers, reader *fakeReader) http.Handler {
	srv := New(triggers, reader, Options{DefaultDays: 7}, zerolog.Nop())
	srv.now = func() time.Time { return time.Date(2025, 10, 8, 15, 0, 0, 0, time.UTC) }
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeTriggers{}, &fakeReader{}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestKPIDefaultWindow(t *testing.T) {
	reader := &fakeReader{}
	rec := do(t, newTestServer(&fakeTriggers{}, reader), http.MethodGet, "/api/v1/kpi", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if reader.from.Format(time.DateOnly) != "2025-10-02" || reader.to.Format(time.DateOnly) != "2025-10-08" {
		t.Fatalf("unexpected window %s..%s", reader.from, reader.to)
	}

	var body struct {
		Rows []struct {
			Date    string  `json:"date"`
			Revenue string  `json:"revenue"`
			Margin  *string `json:"margin"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Rows) != 2 || body.Rows[0].Revenue != "100" || body.Rows[0].Margin == nil || *body.Rows[0].Margin != "0.5" {
		t.Fatalf("unexpected rows %+v", body.Rows)
	}
	if body.Rows[1].Margin != nil {
		t.Fatal("zero revenue must have a null margin")
	}
}

func TestKPIRejectsBadDates(t *testing.T) {
	h := newTestServer(&fakeTriggers{}, &fakeReader{})
	if rec := do(t, h, http.MethodGet, "/api/v1/kpi?from=10/01/2025", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed date should be rejected, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/kpi?from=2025-10-05&to=2025-10-01", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted window should be rejected, got %d", rec.Code)
	}
}

func TestKPISummary(t *testing.T) {
	rec := do(t, newTestServer(&fakeTriggers{}, &fakeReader{}), http.MethodGet, "/api/v1/kpi/summary?from=2025-10-01&to=2025-10-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Total struct {
			Revenue string `json:"revenue"`
			Margin  string `json:"margin"`
		} `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total.Revenue != "100" || body.Total.Margin != "0.5" {
		t.Fatalf("unexpected totals %+v", body.Total)
	}
}

func TestRunsLimit(t *testing.T) {
	reader := &fakeReader{}
	h := newTestServer(&fakeTriggers{}, reader)

	if rec := do(t, h, http.MethodGet, "/api/v1/runs?limit=5000", ""); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if reader.limit != maxRunsLimit {
		t.Fatalf("limit should be capped, got %d", reader.limit)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/runs?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit should be rejected, got %d", rec.Code)
	}
}

func TestTriggerOzon(t *testing.T) {
	triggers := &fakeTriggers{status: storage.StatusOK}
	h := newTestServer(triggers, &fakeReader{})

	if rec := do(t, h, http.MethodPost, "/api/v1/etl/ozon", ""); rec.Code != http.StatusOK {
		t.Fatalf("empty body should trigger a run, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/etl/ozon", `{"dry_run":true}`); rec.Code != http.StatusOK || !triggers.ozonOpts.DryRun {
		t.Fatalf("dry_run not passed through: %d %+v", rec.Code, triggers.ozonOpts)
	}

	triggers.status = storage.StatusError
	if rec := do(t, h, http.MethodPost, "/api/v1/etl/ozon", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("failed run should answer 502, got %d", rec.Code)
	}
}

func TestTriggerWBWindow(t *testing.T) {
	triggers := &fakeTriggers{status: storage.StatusOK}
	h := newTestServer(triggers, &fakeReader{})

	rec := do(t, h, http.MethodPost, "/api/v1/etl/wb", `{"since":"2025-09-01","until":"2025-09-30"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if triggers.wbOpts.From.Format(time.DateOnly) != "2025-09-01" || triggers.wbOpts.To.Format(time.DateOnly) != "2025-09-30" {
		t.Fatalf("unexpected window %+v", triggers.wbOpts)
	}

	do(t, h, http.MethodPost, "/api/v1/etl/wb", "")
	if triggers.wbOpts.From.Format(time.DateOnly) != "2025-10-01" {
		t.Fatalf("default window not applied: %+v", triggers.wbOpts)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/etl/wb", `{"since":"2025-09-30","until":"2025-09-01"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted window should be rejected, got %d", rec.Code)
	}
}

func TestRebuildFailureSurfaces(t *testing.T) {
	h := newTestServer(&fakeTriggers{rebuildErr: errors.New("rebuild mart: deadlock detected")}, &fakeReader{})
	rec := do(t, h, http.MethodPost, "/api/v1/mart/rebuild", "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "deadlock") {
		t.Fatalf("rebuild failure should be surfaced, got %d %s", rec.Code, rec.Body)
	}
}

func TestReap(t *testing.T) {
	rec := do(t, newTestServer(&fakeTriggers{}, &fakeReader{}), http.MethodPost, "/api/v1/runs/reap", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"reaped":1`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeTriggers{}, &fakeReader{})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/kpi", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("preflight should be answered by the cors middleware: %v", rec.Header())
	}
}
