package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	wbReportPath       = "/api/v5/supplier/reportDetailByPeriod"
	defaultWBBaseURL   = "https://statistics-api.wildberries.ru"
	defaultWBPageLimit = 100000
	wbDateLayout       = "2006-01-02"
)

// WBOptions parameterise the Wildberries statistics client.
type WBOptions struct {
	BaseURL      string
	Token        string
	PageLimit    int
	PageDelay    time.Duration
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
}

// WB crawls reportDetailByPeriod with rrdid paging.
type WB struct {
	opts    WBOptions
	logger  zerolog.Logger
	http    *transport
	baseURL string
}

// NewWB constructs a WB sales fetcher.
func NewWB(opts WBOptions, logger zerolog.Logger) *WB {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultWBBaseURL
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = defaultWBPageLimit
	}

	log := logger.With().Str("component", "wb_fetcher").Logger()
	return &WB{
		opts:    opts,
		logger:  log,
		http:    newTransport("wb", opts.Timeout, opts.MaxRetries, opts.RetryBackoff, opts.UserAgent, log),
		baseURL: baseURL,
	}
}

// Endpoint names the API path recorded in etl_log.
func (w *WB) Endpoint() string {
	return wbReportPath
}

// FetchSales pulls every report line for [from, to]. The cursor for the next page
// is the largest rrd_id of the previous one; paging ends on an empty page or when
// the cursor stops advancing.
func (w *WB) FetchSales(ctx context.Context, from, to time.Time) ([]json.RawMessage, error) {
	if w.opts.Token == "" {
		return nil, ErrMissingCredentials
	}
	if to.Before(from) {
		return nil, fmt.Errorf("wb report window is empty: %s > %s", from.Format(wbDateLayout), to.Format(wbDateLayout))
	}

	headers := map[string]string{"Authorization": w.opts.Token}

	var (
		all   []json.RawMessage
		rrdid int64
	)
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("dateFrom", from.Format(wbDateLayout))
		query.Set("dateTo", to.Format(wbDateLayout))
		query.Set("rrdid", strconv.FormatInt(rrdid, 10))
		query.Set("limit", strconv.Itoa(w.opts.PageLimit))

		body, err := w.http.do(ctx, http.MethodGet, w.baseURL+wbReportPath+"?"+query.Encode(), headers, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch wb report page %d: %w", page, err)
		}

		batch, next, err := decodeReportPage(body)
		if err != nil {
			return nil, fmt.Errorf("parse wb report page %d: %w", page, err)
		}

		w.logger.Debug().Int("page", page).Int("rows", len(batch)).Int64("rrdid", rrdid).Msg("report page received")
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)

		if next <= rrdid {
			w.logger.Warn().Int64("rrdid", rrdid).Msg("report cursor did not advance; stopping")
			break
		}
		rrdid = next

		if err := sleepCtx(ctx, w.opts.PageDelay); err != nil {
			return nil, err
		}
	}

	return all, nil
}

type rrdCursor struct {
	RrdID    json.Number `json:"rrd_id"`
	RrdIDAlt json.Number `json:"rrdid"`
}

func (c rrdCursor) value() (int64, bool) {
	raw := c.RrdID
	if raw == "" {
		raw = c.RrdIDAlt
	}
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(raw.String(), 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(raw.String(), 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// decodeReportPage splits a JSON array page into raw items and returns the max rrd_id.
// WB answers an exhausted report with an empty array or null. The cursor may arrive
// as an integer, a float or a numeric string.
func decodeReportPage(body []byte) ([]json.RawMessage, int64, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	var next int64
	for _, item := range items {
		var cursor rrdCursor
		if err := json.Unmarshal(item, &cursor); err != nil {
			continue
		}
		if id, ok := cursor.value(); ok && id > next {
			next = id
		}
	}
	return items, next, nil
}

var _ WBSalesFetcher = (*WB)(nil)
