package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	insertOzonRawSQL = `INSERT INTO raw.ozon_stock_raw (payload) VALUES ($1);`

	truncateOzonStockSQL = `TRUNCATE TABLE raw.ozon_stock;`

	insertOzonStockSQL = `INSERT INTO raw.ozon_stock (
        date,
        warehouse_name,
        region,
        product_id,
        sku,
        item_name,
        quantity,
        reserved,
        price
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	truncateWBSalesSQL = `TRUNCATE TABLE raw.wb_sales;`

	insertWBSalesSQL = `INSERT INTO raw.wb_sales (
        date,
        sku,
        region,
        quantity,
        price
    ) VALUES (
        $1,$2,$3,$4,$5
    );`
)

// SaveOzonStock writes the audit pages and the normalized rows in one transaction.
// With Replace the previous snapshot is dropped first; either everything lands or nothing does.
func (s *Store) SaveOzonStock(ctx context.Context, batch OzonStockBatch, policy WritePolicy) (int, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		pages := make([][]any, 0, len(batch.Pages))
		for _, page := range batch.Pages {
			pages = append(pages, []any{[]byte(page)})
		}
		if err := execBatched(ctx, tx, insertOzonRawSQL, pages); err != nil {
			return fmt.Errorf("insert ozon audit payload: %w", err)
		}

		if policy == Replace {
			if _, err := tx.Exec(ctx, truncateOzonStockSQL); err != nil {
				return fmt.Errorf("truncate ozon stock: %w", err)
			}
		}

		args := make([][]any, 0, len(batch.Rows))
		for _, row := range batch.Rows {
			var date any
			if row.Date != nil {
				date = *row.Date
			}
			args = append(args, []any{
				date,
				nullableText(row.WarehouseName),
				nullableText(row.Region),
				nullableText(row.ProductID),
				row.SKU,
				nullableText(row.ItemName),
				row.Quantity.String(),
				row.Reserved.String(),
				row.Price.String(),
			})
		}
		if err := execBatched(ctx, tx, insertOzonStockSQL, args); err != nil {
			return fmt.Errorf("insert ozon stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(batch.Rows), nil
}

// SaveWBSales writes sales lines in one transaction. Duplicates are kept as separate rows.
func (s *Store) SaveWBSales(ctx context.Context, rows []WBSalesRow, policy WritePolicy) (int, error) {
	if len(rows) == 0 && policy == Append {
		return 0, nil
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if policy == Replace {
			if _, err := tx.Exec(ctx, truncateWBSalesSQL); err != nil {
				return fmt.Errorf("truncate wb sales: %w", err)
			}
		}

		args := make([][]any, 0, len(rows))
		for _, row := range rows {
			args = append(args, []any{
				row.Date,
				row.SKU,
				nullableText(row.Region),
				row.Quantity.String(),
				row.Price.String(),
			})
		}
		if err := execBatched(ctx, tx, insertWBSalesSQL, args); err != nil {
			return fmt.Errorf("insert wb sales: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
