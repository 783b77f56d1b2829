package etl

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"finsign-bi/internal/fetcher"
	"finsign-bi/internal/storage"
)

// OzonOptions select how a single Ozon run behaves.
type OzonOptions struct {
	DryRun bool
}

// OzonLoader lands the Ozon warehouse stock snapshot in raw.ozon_stock.
type OzonLoader struct {
	runner  *Runner
	fetcher fetcher.OzonStockFetcher
	store   storage.OzonStockStore
	policy  storage.WritePolicy
	logger  zerolog.Logger
}

// NewOzonLoader wires the Ozon loader. The policy is normally storage.Replace.
func NewOzonLoader(runner *Runner, f fetcher.OzonStockFetcher, store storage.OzonStockStore, policy storage.WritePolicy, logger zerolog.Logger) *OzonLoader {
	return &OzonLoader{
		runner:  runner,
		fetcher: f,
		store:   store,
		policy:  policy,
		logger:  logger.With().Str("component", "ozon_loader").Logger(),
	}
}

// Load runs one Ozon ingest.
func (l *OzonLoader) Load(ctx context.Context, opts OzonOptions) (Result, error) {
	if opts.DryRun {
		return l.dryRun(ctx)
	}
	return l.runner.Run(ctx, storage.SourceOzon, l.fetcher.Endpoint(), func(ctx context.Context, logger zerolog.Logger) (Outcome, error) {
		batch, err := l.fetcher.FetchStock(ctx)
		if err != nil {
			return Outcome{}, err
		}

		if len(batch.Items) == 0 {
			logger.Info().Msg("empty stock snapshot, raw tables left untouched")
			return Outcome{}, nil
		}

		rows, rejected := NormalizeOzon(batch.Items)
		logRejected(logger, rejected)
		out := Outcome{Fetched: len(batch.Items), Rejected: rejected}
		if len(rows) == 0 {
			return out, fmt.Errorf("all %d ozon item(s) rejected (first: %s); previous snapshot kept", len(batch.Items), rejected[0].Reason)
		}

		written, err := l.store.SaveOzonStock(ctx, storage.OzonStockBatch{Pages: batch.Pages, Rows: rows}, l.policy)
		if err != nil {
			return out, fmt.Errorf("persist ozon stock: %w", err)
		}
		out.Rows = written
		logger.Debug().Int("pages", len(batch.Pages)).Int("rows", written).Str("policy", string(l.policy)).Msg("ozon stock persisted")
		return out, nil
	})
}

func (l *OzonLoader) dryRun(ctx context.Context) (Result, error) {
	res := Result{Source: storage.SourceOzon, Endpoint: l.fetcher.Endpoint(), DryRun: true, StartedAt: l.runner.opts.Now()}
	batch, err := l.fetcher.FetchStock(ctx)
	res.FinishedAt = l.runner.opts.Now()
	if err != nil {
		res.Status = storage.StatusError
		res.Message = err.Error()
		return res, nil
	}

	rows, rejected := NormalizeOzon(batch.Items)
	logRejected(l.logger, rejected)
	out := Outcome{Fetched: len(batch.Items), Rows: len(rows), Rejected: rejected}
	if len(batch.Items) > 0 && len(rows) == 0 {
		res.Status = storage.StatusError
		res.Fetched = out.Fetched
		res.Skipped = len(rejected)
		res.Message = fmt.Sprintf("all %d ozon item(s) rejected (first: %s)", len(batch.Items), rejected[0].Reason)
		return res, nil
	}

	res.Status = storage.StatusOK
	res.Fetched = out.Fetched
	res.RowsLoaded = out.Rows
	res.Skipped = len(rejected)
	res.Message = out.message()
	l.logger.Info().Int("pages", len(batch.Pages)).Int("rows", len(rows)).Int("skipped", len(rejected)).Msg("dry run finished, nothing written")
	return res, nil
}
