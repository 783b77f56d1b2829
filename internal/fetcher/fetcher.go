package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMissingCredentials is returned before any request when an API client lacks its keys.
var ErrMissingCredentials = errors.New("fetcher: marketplace credentials not configured")

// StockBatch is the outcome of one full Ozon stock crawl.
type StockBatch struct {
	// Pages holds every response body as received, for the audit table.
	Pages []json.RawMessage
	// Items are the individual stock entries extracted from the pages.
	Items []json.RawMessage
}

// OzonStockFetcher retrieves warehouse stock from the Ozon Seller API.
type OzonStockFetcher interface {
	Endpoint() string
	FetchStock(ctx context.Context) (StockBatch, error)
}

// WBSalesFetcher retrieves the sales report from the Wildberries statistics API.
type WBSalesFetcher interface {
	Endpoint() string
	FetchSales(ctx context.Context, from, to time.Time) ([]json.RawMessage, error)
}
