package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	// Ozon rows without a date fall back to the day they were loaded.
	salesLinesSQL = `SELECT date, marketplace, region, revenue::text
    FROM (
        SELECT
            COALESCE(date, (loaded_at AT TIME ZONE 'UTC')::date)  AS date,
            'ozon'::text                                          AS marketplace,
            COALESCE(region, '')                                  AS region,
            SUM(COALESCE(quantity, 0) * COALESCE(price, 0))       AS revenue
        FROM raw.ozon_stock
        GROUP BY 1, 3
        UNION ALL
        SELECT
            date,
            'wb'::text,
            COALESCE(region, ''),
            SUM(quantity * price)
        FROM raw.wb_sales
        GROUP BY 1, 3
    ) lines
    ORDER BY date, marketplace, region;`

	truncateFactSalesSQL = `TRUNCATE TABLE mart.fact_sales RESTART IDENTITY;`

	insertFactSalesSQL = `INSERT INTO mart.fact_sales (
        date,
        marketplace,
        region,
        revenue,
        cost
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listFactSalesSQL = `SELECT date, marketplace, region, revenue::text, cost::text, profit::text
    FROM mart.fact_sales
    ORDER BY id;`

	listKPISQL = `SELECT
        date,
        marketplace,
        revenue::text,
        cost::text,
        profit::text,
        margin::text
    FROM mart.vw_kpi
    WHERE date >= $1
      AND date <= $2
    ORDER BY date, marketplace;`
)

// SalesLines projects both raw tables into (date, marketplace, region, revenue).
func (s *Store) SalesLines(ctx context.Context) ([]SalesLine, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, salesLinesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("query sales lines: %w", queryErr)
	}
	defer rows.Close()

	lines := make([]SalesLine, 0)
	for rows.Next() {
		var (
			line       SalesLine
			revenueStr sql.NullString
		)
		if err := rows.Scan(&line.Date, &line.Marketplace, &line.Region, &revenueStr); err != nil {
			return nil, err
		}
		line.Revenue = decimal.Zero
		if revenueStr.Valid {
			line.Revenue, err = decimal.NewFromString(revenueStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse revenue: %w", err)
			}
		}
		lines = append(lines, line)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return lines, nil
}

// ReplaceFactSales swaps the whole mart in one transaction. TRUNCATE holds an
// exclusive lock until commit, so readers see either the old or the new contents.
func (s *Store) ReplaceFactSales(ctx context.Context, facts []FactSalesRow) (int, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, truncateFactSalesSQL); err != nil {
			return fmt.Errorf("truncate fact_sales: %w", err)
		}

		args := make([][]any, 0, len(facts))
		for _, fact := range facts {
			args = append(args, []any{
				fact.Date,
				fact.Marketplace,
				fact.Region,
				fact.Revenue.StringFixed(2),
				fact.Cost.StringFixed(2),
			})
		}
		if err := execBatched(ctx, tx, insertFactSalesSQL, args); err != nil {
			return fmt.Errorf("insert fact_sales: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(facts), nil
}

// ListFactSales returns the mart in insertion order.
func (s *Store) ListFactSales(ctx context.Context) ([]FactSalesRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFactSalesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list fact_sales: %w", queryErr)
	}
	defer rows.Close()

	facts := make([]FactSalesRow, 0)
	for rows.Next() {
		var (
			fact                          FactSalesRow
			revenueStr, costStr, profitStr string
		)
		if err := rows.Scan(&fact.Date, &fact.Marketplace, &fact.Region, &revenueStr, &costStr, &profitStr); err != nil {
			return nil, err
		}
		if fact.Revenue, err = decimal.NewFromString(revenueStr); err != nil {
			return nil, fmt.Errorf("parse revenue: %w", err)
		}
		if fact.Cost, err = decimal.NewFromString(costStr); err != nil {
			return nil, fmt.Errorf("parse cost: %w", err)
		}
		if fact.Profit, err = decimal.NewFromString(profitStr); err != nil {
			return nil, fmt.Errorf("parse profit: %w", err)
		}
		facts = append(facts, fact)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return facts, nil
}

// ListKPI reads mart.vw_kpi for an inclusive date window.
func (s *Store) ListKPI(ctx context.Context, from, to time.Time) ([]KPIRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listKPISQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list kpi: %w", queryErr)
	}
	defer rows.Close()

	kpis := make([]KPIRow, 0)
	for rows.Next() {
		kpi, scanErr := scanKPI(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		kpis = append(kpis, kpi)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return kpis, nil
}

func scanKPI(rows pgx.Rows) (KPIRow, error) {
	var (
		kpi        KPIRow
		revenueStr string
		costStr    string
		profitStr  string
		marginStr  sql.NullString
	)
	if err := rows.Scan(&kpi.Date, &kpi.Marketplace, &revenueStr, &costStr, &profitStr, &marginStr); err != nil {
		return KPIRow{}, err
	}

	var err error
	if kpi.Revenue, err = decimal.NewFromString(revenueStr); err != nil {
		return KPIRow{}, fmt.Errorf("parse revenue: %w", err)
	}
	if kpi.Cost, err = decimal.NewFromString(costStr); err != nil {
		return KPIRow{}, fmt.Errorf("parse cost: %w", err)
	}
	if kpi.Profit, err = decimal.NewFromString(profitStr); err != nil {
		return KPIRow{}, fmt.Errorf("parse profit: %w", err)
	}
	if marginStr.Valid {
		margin, err := decimal.NewFromString(marginStr.String)
		if err != nil {
			return KPIRow{}, fmt.Errorf("parse margin: %w", err)
		}
		kpi.Margin = &margin
	}
	return kpi, nil
}
