package etl

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"finsign-bi/internal/storage"
)

// Rejected is an API item that could not be normalized.
type Rejected struct {
	Index  int
	Reason string
}

type ozonItem struct {
	SKU      string           `validate:"required"`
	Quantity decimal.Decimal  `validate:"gte=0"`
	Reserved decimal.Decimal  `validate:"gte=0"`
	Price    *decimal.Decimal `validate:"required,gte=0"`
}

// NormalizeOzon maps stock_on_warehouses items onto raw.ozon_stock rows.
// Items without sku or price, or with negative amounts, are rejected.
func NormalizeOzon(items []json.RawMessage) ([]storage.OzonStockRow, []Rejected) {
	rows := make([]storage.OzonStockRow, 0, len(items))
	var rejected []Rejected

	for i, raw := range items {
		row, err := normalizeOzonItem(raw)
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rejected
}

func normalizeOzonItem(raw json.RawMessage) (storage.OzonStockRow, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return storage.OzonStockRow{}, err
	}

	var (
		row  storage.OzonStockRow
		errs fieldErrors
	)

	row.Date = ozonDate(f)
	row.WarehouseName = errs.text(f, "warehouse_name")
	row.Region = errs.text(f, "region")
	row.ProductID = errs.text(f, "product_id")
	row.SKU = errs.text(f, "sku")
	row.ItemName = errs.text(f, "item_name")

	quantity := errs.number(f, "quantity", "free_to_sell_amount")
	reserved := errs.number(f, "reserved", "reserved_amount")
	price := errs.number(f, "price")
	if err := errs.err(); err != nil {
		return storage.OzonStockRow{}, err
	}

	item := ozonItem{SKU: row.SKU, Quantity: orZero(quantity), Reserved: orZero(reserved), Price: price}
	if err := validate.Struct(item); err != nil {
		return storage.OzonStockRow{}, invalidItem(describeInvalid(err))
	}

	row.Quantity = item.Quantity
	row.Reserved = item.Reserved
	row.Price = *price
	return row, nil
}

// ozonDate prefers date, then updated_at. An unparsable value counts as absent.
func ozonDate(f fields) *time.Time {
	for _, key := range []string{"date", "updated_at"} {
		if d, err := f.date(key); err == nil && d != nil {
			return d
		}
	}
	return nil
}
