package mart

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"finsign-bi/internal/etl"
	"finsign-bi/internal/storage"
)

// Endpoint is how rebuild runs are labelled in raw.etl_log.
const Endpoint = "fact_sales"

// Rebuilder recomputes mart.fact_sales from the raw layer.
type Rebuilder struct {
	store  storage.MartStore
	runner *etl.Runner
	costs  CostModel
	logger zerolog.Logger
}

// NewRebuilder wires the mart rebuild.
func NewRebuilder(store storage.MartStore, runner *etl.Runner, costs CostModel, logger zerolog.Logger) *Rebuilder {
	return &Rebuilder{
		store:  store,
		runner: runner,
		costs:  costs,
		logger: logger.With().Str("component", "mart").Logger(),
	}
}

// Rebuild replaces the mart with facts computed from the current raw tables.
// The run is recorded in raw.etl_log; a failure leaves the previous mart in place
// and is also returned to the caller.
func (r *Rebuilder) Rebuild(ctx context.Context) (etl.Result, error) {
	var buildErr error
	res, err := r.runner.Run(ctx, storage.SourceMart, Endpoint, func(ctx context.Context, logger zerolog.Logger) (etl.Outcome, error) {
		lines, err := r.store.SalesLines(ctx)
		if err != nil {
			buildErr = fmt.Errorf("read sales lines: %w", err)
			return etl.Outcome{}, buildErr
		}

		facts, err := BuildFacts(lines, r.costs)
		if err != nil {
			buildErr = err
			return etl.Outcome{Fetched: len(lines)}, err
		}

		written, err := r.store.ReplaceFactSales(ctx, facts)
		if err != nil {
			buildErr = fmt.Errorf("replace fact_sales: %w", err)
			return etl.Outcome{Fetched: len(lines)}, buildErr
		}

		logger.Debug().Int("lines", len(lines)).Int("facts", written).Msg("fact_sales replaced")
		return etl.Outcome{Fetched: len(lines), Rows: written}, nil
	})
	if err != nil {
		return res, err
	}
	if res.Failed() {
		if buildErr == nil {
			buildErr = errors.New(res.Message)
		}
		return res, fmt.Errorf("rebuild mart: %w", buildErr)
	}
	return res, nil
}
