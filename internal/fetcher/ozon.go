package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ozonStockPath       = "/v2/analytics/stock_on_warehouses"
	defaultOzonBaseURL  = "https://api-seller.ozon.ru"
	defaultOzonPageSize = 1000
)

// OzonOptions parameterise the Ozon Seller API client.
type OzonOptions struct {
	BaseURL      string
	ClientID     string
	APIKey       string
	PageLimit    int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
}

// Ozon crawls stock_on_warehouses with limit/offset paging.
type Ozon struct {
	opts    OzonOptions
	logger  zerolog.Logger
	http    *transport
	baseURL string
}

// NewOzon constructs an Ozon stock fetcher.
func NewOzon(opts OzonOptions, logger zerolog.Logger) *Ozon {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOzonBaseURL
	}
	if opts.PageLimit <= 0 || opts.PageLimit > defaultOzonPageSize {
		opts.PageLimit = defaultOzonPageSize
	}

	log := logger.With().Str("component", "ozon_fetcher").Logger()
	return &Ozon{
		opts:    opts,
		logger:  log,
		http:    newTransport("ozon", opts.Timeout, opts.MaxRetries, opts.RetryBackoff, opts.UserAgent, log),
		baseURL: baseURL,
	}
}

// Endpoint names the API path recorded in etl_log.
func (o *Ozon) Endpoint() string {
	return ozonStockPath
}

// FetchStock pages through the report until a short or empty page.
func (o *Ozon) FetchStock(ctx context.Context) (StockBatch, error) {
	if o.opts.ClientID == "" || o.opts.APIKey == "" {
		return StockBatch{}, ErrMissingCredentials
	}

	headers := map[string]string{
		"Client-Id": o.opts.ClientID,
		"Api-Key":   o.opts.APIKey,
	}

	var batch StockBatch
	for offset := 0; ; offset += o.opts.PageLimit {
		req := stockRequest{Limit: o.opts.PageLimit, Offset: offset}
		body, err := o.http.do(ctx, http.MethodPost, o.baseURL+ozonStockPath, headers, req)
		if err != nil {
			return StockBatch{}, fmt.Errorf("fetch ozon stock at offset %d: %w", offset, err)
		}

		items, err := extractItems(body)
		if err != nil {
			return StockBatch{}, fmt.Errorf("parse ozon stock at offset %d: %w", offset, err)
		}

		o.logger.Debug().Int("offset", offset).Int("items", len(items)).Msg("stock page received")
		if len(items) == 0 {
			break
		}

		batch.Pages = append(batch.Pages, json.RawMessage(body))
		batch.Items = append(batch.Items, items...)
		if len(items) < o.opts.PageLimit {
			break
		}
	}

	return batch, nil
}

type stockRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// listKeys are the containers Ozon uses for row lists across report revisions.
var listKeys = []string{"items", "stocks", "data", "rows"}

// extractItems finds the item list in a response: result as a list,
// result.{items,stocks,data,rows}, or the same keys at the top level.
// A well-formed object without any list yields no items.
func extractItems(body []byte) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	container := envelope
	if raw, ok := envelope["result"]; ok {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, nil
		}
		container = nested
	}

	for _, key := range listKeys {
		raw, ok := container[key]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return nil, nil
}

var _ OzonStockFetcher = (*Ozon)(nil)
