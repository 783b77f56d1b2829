package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"finsign-bi/internal/config"
	"finsign-bi/internal/etl"
	"finsign-bi/internal/scheduler"
	"finsign-bi/internal/storage"
)

// OzonLoader runs one Ozon ingest.
type OzonLoader interface {
	Load(ctx context.Context, opts etl.OzonOptions) (etl.Result, error)
}

// WBLoader runs one WB ingest.
type WBLoader interface {
	Load(ctx context.Context, opts etl.WBOptions) (etl.Result, error)
}

// MartRebuilder recomputes mart.fact_sales.
type MartRebuilder interface {
	Rebuild(ctx context.Context) (etl.Result, error)
}

// CycleReport is the outcome of one scheduled cycle.
type CycleReport struct {
	Tick    time.Time   `json:"tick"`
	Skipped bool        `json:"skipped"`
	Ozon    *etl.Result `json:"ozon,omitempty"`
	WB      *etl.Result `json:"wb,omitempty"`
	Mart    *etl.Result `json:"mart,omitempty"`
	Reaped  int64       `json:"reaped"`
}

// Failed reports whether any step of the cycle ended with status error.
func (r CycleReport) Failed() bool {
	for _, res := range []*etl.Result{r.Ozon, r.WB, r.Mart} {
		if res != nil && res.Failed() {
			return true
		}
	}
	return false
}

// Service orchestrates loaders, the mart rebuild and run bookkeeping.
type Service struct {
	scheduler *scheduler.Scheduler
	ozon      OzonLoader
	wb        WBLoader
	mart      MartRebuilder
	reaper    storage.RunReaper
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger

	lockKey    int64
	lookback   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// New constructs the ETL service. sched may be nil for one-shot commands.
func New(cfg *config.Config, sched *scheduler.Scheduler, ozon OzonLoader, wb WBLoader, rebuilder MartRebuilder, store storage.RunReaper, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		ozon:       ozon,
		wb:         wb,
		mart:       rebuilder,
		reaper:     store,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		lookback:   cfg.WB.Lookback,
		staleAfter: cfg.ETL.StaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the aligned ETL loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, tick time.Time) error {
		report, err := s.ProcessTick(ctx, tick)
		if err != nil {
			return err
		}
		if report.Failed() {
			return errors.New("etl cycle finished with failed runs")
		}
		return nil
	})
}

// LoadOzon runs the Ozon loader once.
func (s *Service) LoadOzon(ctx context.Context, opts etl.OzonOptions) (etl.Result, error) {
	return s.ozon.Load(ctx, opts)
}

// LoadWB runs the WB loader once.
func (s *Service) LoadWB(ctx context.Context, opts etl.WBOptions) (etl.Result, error) {
	return s.wb.Load(ctx, opts)
}

// DefaultWBWindow is [now - wb.lookback, now].
func (s *Service) DefaultWBWindow() (time.Time, time.Time) {
	to := s.now()
	return to.Add(-s.lookback), to
}

// RebuildMart recomputes the mart once.
func (s *Service) RebuildMart(ctx context.Context) (etl.Result, error) {
	return s.mart.Rebuild(ctx)
}

// ReapStale closes runs left in running state for longer than etl.stale_after.
func (s *Service) ReapStale(ctx context.Context) (int64, error) {
	if s.reaper == nil || s.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.reaper.ReapStaleRuns(ctx, cutoff, fmt.Sprintf("abandoned: still running after %s", s.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("reap stale runs: %w", err)
	}
	if n > 0 {
		s.logger.Warn().Int64("reaped", n).Time("started_before", cutoff).Msg("stale runs closed")
	}
	return n, nil
}

// ProcessTick runs one full cycle unless another process holds the advisory lock.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) (CycleReport, error) {
	report := CycleReport{Tick: tick}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip cycle because advisory lock held elsewhere")
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, report)
}

// executeCycle loads both sources, rebuilds the mart, then reaps stale runs.
// A failing step does not stop the following ones.
func (s *Service) executeCycle(ctx context.Context, report CycleReport) (CycleReport, error) {
	var errs []error

	ozon, err := s.ozon.Load(ctx, etl.OzonOptions{})
	report.Ozon = &ozon
	if err != nil {
		errs = append(errs, err)
	}

	from, to := s.DefaultWBWindow()
	wb, err := s.wb.Load(ctx, etl.WBOptions{From: from, To: to})
	report.WB = &wb
	if err != nil {
		errs = append(errs, err)
	}

	rebuilt, err := s.mart.Rebuild(ctx)
	report.Mart = &rebuilt
	if err != nil && !rebuilt.Failed() {
		// a failed rebuild is already recorded in report.Mart
		errs = append(errs, err)
	}

	reaped, err := s.ReapStale(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.Reaped = reaped

	s.logger.Info().Time("tick", report.Tick).
		Str("ozon", string(ozon.Status)).
		Str("wb", string(wb.Status)).
		Str("mart", string(rebuilt.Status)).
		Int64("reaped", report.Reaped).
		Msg("etl cycle finished")

	return report, errors.Join(errs...)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
