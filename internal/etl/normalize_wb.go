package etl

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"finsign-bi/internal/storage"
)

var (
	wbDateKeys     = []string{"sale_dt", "saleDt", "date"}
	wbSKUKeys      = []string{"supplierArticle", "sa_article", "sa_name", "nm_id", "barcode"}
	wbRegionKeys   = []string{"regionName", "region_name"}
	wbQuantityKeys = []string{"quantity", "sale_qty"}
	wbPriceKeys    = []string{"retail_price", "price"}
)

type wbItem struct {
	Date     *time.Time      `validate:"required"`
	SKU      string          `validate:"required"`
	Quantity decimal.Decimal `validate:"gte=0"`
	Price    decimal.Decimal `validate:"gte=0"`
}

// NormalizeWB maps reportDetailByPeriod lines onto raw.wb_sales rows.
// Lines without a sale date or article are rejected; duplicates are kept.
func NormalizeWB(items []json.RawMessage) ([]storage.WBSalesRow, []Rejected) {
	rows := make([]storage.WBSalesRow, 0, len(items))
	var rejected []Rejected

	for i, raw := range items {
		row, err := normalizeWBItem(raw)
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rejected
}

func normalizeWBItem(raw json.RawMessage) (storage.WBSalesRow, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return storage.WBSalesRow{}, err
	}

	var errs fieldErrors
	item := wbItem{
		Date:     errs.date(f, wbDateKeys...),
		SKU:      errs.text(f, wbSKUKeys...),
		Quantity: orZero(errs.number(f, wbQuantityKeys...)),
		Price:    orZero(errs.number(f, wbPriceKeys...)),
	}
	region := errs.text(f, wbRegionKeys...)
	if err := errs.err(); err != nil {
		return storage.WBSalesRow{}, err
	}
	if err := validate.Struct(item); err != nil {
		return storage.WBSalesRow{}, invalidItem(describeInvalid(err))
	}

	return storage.WBSalesRow{
		Date:     *item.Date,
		SKU:      item.SKU,
		Region:   region,
		Quantity: item.Quantity,
		Price:    item.Price,
	}, nil
}
