package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"finsign-bi/internal/fetcher"
	"finsign-bi/internal/storage"
)

// WBOptions select the report window of a WB run.
type WBOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

func (o WBOptions) validate() error {
	if o.From.IsZero() || o.To.IsZero() {
		return errors.New("wb window requires both from and to")
	}
	if o.To.Before(o.From) {
		return fmt.Errorf("wb window is inverted: %s > %s", o.From.Format(time.DateOnly), o.To.Format(time.DateOnly))
	}
	return nil
}

// WBLoader appends WB sales report lines to raw.wb_sales.
type WBLoader struct {
	runner  *Runner
	fetcher fetcher.WBSalesFetcher
	store   storage.WBSalesStore
	policy  storage.WritePolicy
	logger  zerolog.Logger
}

// NewWBLoader wires the WB loader. The policy is normally storage.Append.
func NewWBLoader(runner *Runner, f fetcher.WBSalesFetcher, store storage.WBSalesStore, policy storage.WritePolicy, logger zerolog.Logger) *WBLoader {
	return &WBLoader{
		runner:  runner,
		fetcher: f,
		store:   store,
		policy:  policy,
		logger:  logger.With().Str("component", "wb_loader").Logger(),
	}
}

// Load runs one WB ingest over opts.From..opts.To.
func (l *WBLoader) Load(ctx context.Context, opts WBOptions) (Result, error) {
	if opts.DryRun {
		return l.dryRun(ctx, opts)
	}
	return l.runner.Run(ctx, storage.SourceWB, l.fetcher.Endpoint(), func(ctx context.Context, logger zerolog.Logger) (Outcome, error) {
		if err := opts.validate(); err != nil {
			return Outcome{}, err
		}
		logger.Debug().Time("from", opts.From).Time("to", opts.To).Msg("fetching wb report")

		items, err := l.fetcher.FetchSales(ctx, opts.From, opts.To)
		if err != nil {
			return Outcome{}, err
		}

		rows, rejected := NormalizeWB(items)
		logRejected(logger, rejected)
		out := Outcome{Fetched: len(items), Rejected: rejected}

		written, err := l.store.SaveWBSales(ctx, rows, l.policy)
		if err != nil {
			return out, fmt.Errorf("persist wb sales: %w", err)
		}
		out.Rows = written
		return out, nil
	})
}

func (l *WBLoader) dryRun(ctx context.Context, opts WBOptions) (Result, error) {
	res := Result{Source: storage.SourceWB, Endpoint: l.fetcher.Endpoint(), DryRun: true, StartedAt: l.runner.opts.Now()}
	if err := opts.validate(); err != nil {
		res.Status = storage.StatusError
		res.Message = err.Error()
		res.FinishedAt = res.StartedAt
		return res, nil
	}

	items, err := l.fetcher.FetchSales(ctx, opts.From, opts.To)
	res.FinishedAt = l.runner.opts.Now()
	if err != nil {
		res.Status = storage.StatusError
		res.Message = err.Error()
		return res, nil
	}

	rows, rejected := NormalizeWB(items)
	logRejected(l.logger, rejected)
	out := Outcome{Fetched: len(items), Rows: len(rows), Rejected: rejected}

	res.Status = storage.StatusOK
	res.Fetched = out.Fetched
	res.RowsLoaded = out.Rows
	res.Skipped = len(rejected)
	res.Message = out.message()
	l.logger.Info().Int("rows", len(rows)).Int("skipped", len(rejected)).Msg("dry run finished, nothing written")
	return res, nil
}
