package mart

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"finsign-bi/internal/storage"
)

// ErrNegativeInput marks raw data that cannot be aggregated into the mart.
var ErrNegativeInput = errors.New("mart: negative revenue in raw data")

// CostModel derives cost from revenue with a ratio per marketplace.
type CostModel struct {
	Default        decimal.Decimal
	PerMarketplace map[string]decimal.Decimal
}

// NewCostModel converts configured ratios. Ratios must be non-negative.
func NewCostModel(defaultRatio float64, perMarketplace map[string]float64) (CostModel, error) {
	if defaultRatio < 0 {
		return CostModel{}, fmt.Errorf("default cost ratio must be >= 0, got %v", defaultRatio)
	}
	model := CostModel{
		Default:        decimal.NewFromFloat(defaultRatio),
		PerMarketplace: make(map[string]decimal.Decimal, len(perMarketplace)),
	}
	for mp, ratio := range perMarketplace {
		if ratio < 0 {
			return CostModel{}, fmt.Errorf("cost ratio for %s must be >= 0, got %v", mp, ratio)
		}
		model.PerMarketplace[mp] = decimal.NewFromFloat(ratio)
	}
	return model, nil
}

// Ratio returns the cost ratio applied to a marketplace.
func (c CostModel) Ratio(marketplace string) decimal.Decimal {
	if r, ok := c.PerMarketplace[marketplace]; ok {
		return r
	}
	return c.Default
}

// Cost is revenue times the marketplace ratio, rounded to cents.
func (c CostModel) Cost(marketplace string, revenue decimal.Decimal) decimal.Decimal {
	return revenue.Mul(c.Ratio(marketplace)).Round(2)
}

type factKey struct {
	date        string
	marketplace string
	region      string
}

// BuildFacts groups sales lines by (date, marketplace, region) and prices them.
// The result is ordered by date, marketplace and region so that identical input
// always yields identical facts.
func BuildFacts(lines []storage.SalesLine, costs CostModel) ([]storage.FactSalesRow, error) {
	revenue := make(map[factKey]decimal.Decimal, len(lines))
	dates := make(map[string]time.Time)

	for _, line := range lines {
		if line.Revenue.IsNegative() {
			return nil, fmt.Errorf("%w: %s %s %q revenue %s", ErrNegativeInput,
				line.Date.Format(time.DateOnly), line.Marketplace, line.Region, line.Revenue)
		}
		day := line.Date.UTC().Format(time.DateOnly)
		key := factKey{date: day, marketplace: line.Marketplace, region: line.Region}
		revenue[key] = revenue[key].Add(line.Revenue)
		if _, ok := dates[day]; !ok {
			y, m, d := line.Date.UTC().Date()
			dates[day] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
	}

	keys := make([]factKey, 0, len(revenue))
	for k := range revenue {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		if keys[i].marketplace != keys[j].marketplace {
			return keys[i].marketplace < keys[j].marketplace
		}
		return keys[i].region < keys[j].region
	})

	facts := make([]storage.FactSalesRow, 0, len(keys))
	for _, k := range keys {
		rev := revenue[k].Round(2)
		cost := costs.Cost(k.marketplace, rev)
		facts = append(facts, storage.FactSalesRow{
			Date:        dates[k.date],
			Marketplace: k.marketplace,
			Region:      k.region,
			Revenue:     rev,
			Cost:        cost,
			Profit:      rev.Sub(cost),
		})
	}
	return facts, nil
}
