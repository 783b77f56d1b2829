package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Source names a producer of etl_log entries.
type Source string

const (
	SourceOzon Source = "ozon"
	SourceWB   Source = "wb"
	SourceMart Source = "mart"
)

// RunStatus is the lifecycle state of an etl_log entry.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusOK      RunStatus = "ok"
	StatusError   RunStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == StatusOK || s == StatusError
}

// WritePolicy selects how a loader lands rows in its raw table.
type WritePolicy string

const (
	// Replace truncates the table and inserts the new snapshot in one transaction.
	Replace WritePolicy = "replace"
	// Append only inserts.
	Append WritePolicy = "append"
)

// EtlLogEntry mirrors a raw.etl_log row.
type EtlLogEntry struct {
	ID         int64
	RunID      string
	Source     Source
	Endpoint   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	RowsLoaded int
	Message    *string
}

// OzonStockRow is one normalized stock snapshot line.
type OzonStockRow struct {
	Date          *time.Time
	WarehouseName string
	Region        string
	ProductID     string
	SKU           string
	ItemName      string
	Quantity      decimal.Decimal
	Reserved      decimal.Decimal
	Price         decimal.Decimal
}

// OzonStockBatch is what one Ozon run persists: the audit pages and the normalized rows.
type OzonStockBatch struct {
	Pages []json.RawMessage
	Rows  []OzonStockRow
}

// WBSalesRow is one normalized sales line.
type WBSalesRow struct {
	Date     time.Time
	SKU      string
	Region   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// SalesLine is a raw-layer aggregate projected into the common mart shape.
type SalesLine struct {
	Date        time.Time
	Marketplace string
	Region      string
	Revenue     decimal.Decimal
}

// FactSalesRow mirrors a mart.fact_sales row.
type FactSalesRow struct {
	Date        time.Time
	Marketplace string
	Region      string
	Revenue     decimal.Decimal
	Cost        decimal.Decimal
	Profit      decimal.Decimal
}

// KPIRow mirrors a mart.vw_kpi row. Margin is nil when revenue is zero.
type KPIRow struct {
	Date        time.Time
	Marketplace string
	Revenue     decimal.Decimal
	Cost        decimal.Decimal
	Profit      decimal.Decimal
	Margin      *decimal.Decimal
}
