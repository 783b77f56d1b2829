package mart

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"finsign-bi/internal/storage"
)

const marginPlaces = 4

// Margin is profit/revenue rounded to four places, or nil for zero revenue.
func Margin(revenue, profit decimal.Decimal) *decimal.Decimal {
	if revenue.IsZero() {
		return nil
	}
	m := profit.DivRound(revenue, marginPlaces)
	return &m
}

// Totals are the headline figures of a KPI window.
type Totals struct {
	Revenue decimal.Decimal  `json:"revenue"`
	Cost    decimal.Decimal  `json:"cost"`
	Profit  decimal.Decimal  `json:"profit"`
	Margin  *decimal.Decimal `json:"margin"`
}

// MarketplaceTotals are Totals for one marketplace.
type MarketplaceTotals struct {
	Marketplace string `json:"marketplace"`
	Totals
}

// Summary aggregates a slice of KPI rows.
type Summary struct {
	From         *time.Time          `json:"from,omitempty"`
	To           *time.Time          `json:"to,omitempty"`
	Days         int                 `json:"days"`
	Total        Totals              `json:"total"`
	Marketplaces []MarketplaceTotals `json:"marketplaces"`
}

// Summarize totals KPI rows overall and per marketplace.
func Summarize(rows []storage.KPIRow) Summary {
	var (
		summary = Summary{Total: zeroTotals(), Marketplaces: []MarketplaceTotals{}}
		byMP    = make(map[string]*Totals)
		days    = make(map[string]struct{})
	)

	for _, row := range rows {
		days[row.Date.Format(time.DateOnly)] = struct{}{}
		d := row.Date
		if summary.From == nil || d.Before(*summary.From) {
			summary.From = &d
		}
		if summary.To == nil || d.After(*summary.To) {
			summary.To = &d
		}

		summary.Total.add(row)
		t, ok := byMP[row.Marketplace]
		if !ok {
			z := zeroTotals()
			t = &z
			byMP[row.Marketplace] = t
		}
		t.add(row)
	}

	summary.Days = len(days)
	summary.Total.Margin = Margin(summary.Total.Revenue, summary.Total.Profit)

	names := make([]string, 0, len(byMP))
	for name := range byMP {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := byMP[name]
		t.Margin = Margin(t.Revenue, t.Profit)
		summary.Marketplaces = append(summary.Marketplaces, MarketplaceTotals{Marketplace: name, Totals: *t})
	}
	return summary
}

func zeroTotals() Totals {
	return Totals{Revenue: decimal.Zero, Cost: decimal.Zero, Profit: decimal.Zero}
}

func (t *Totals) add(row storage.KPIRow) {
	t.Revenue = t.Revenue.Add(row.Revenue)
	t.Cost = t.Cost.Add(row.Cost)
	t.Profit = t.Profit.Add(row.Profit)
}
