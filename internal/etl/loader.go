package etl

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"finsign-bi/internal/alerting"
	"finsign-bi/internal/logging"
	"finsign-bi/internal/storage"
)

const defaultFinalizeTimeout = 10 * time.Second

// Result is what a caller learns about a run.
type Result struct {
	LogID      int64             `json:"log_id,omitempty"`
	RunID      string            `json:"run_id"`
	Source     storage.Source    `json:"source"`
	Endpoint   string            `json:"endpoint"`
	Status     storage.RunStatus `json:"status"`
	RowsLoaded int               `json:"rows_loaded"`
	Fetched    int               `json:"fetched"`
	Skipped    int               `json:"skipped"`
	Message    string            `json:"message,omitempty"`
	DryRun     bool              `json:"dry_run,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Failed reports whether the run ended with status error.
func (r Result) Failed() bool {
	return r.Status == storage.StatusError
}

// Outcome is what the body of a run reports back to the boundary.
type Outcome struct {
	Fetched  int
	Rows     int
	Rejected []Rejected
}

func (o Outcome) message() string {
	if len(o.Rejected) == 0 {
		return ""
	}
	return fmt.Sprintf("skipped %d of %d item(s)", len(o.Rejected), o.Fetched)
}

// WorkFunc is the body of a logged run.
type WorkFunc func(ctx context.Context, logger zerolog.Logger) (Outcome, error)

// RunnerOptions tune the run boundary shared by every loader.
type RunnerOptions struct {
	FinalizeTimeout time.Duration
	Now             func() time.Time
	NewRunID        func() string
}

// Runner owns the etl_log lifecycle: one entry per run, finalized exactly once.
type Runner struct {
	log      storage.RunLog
	notifier alerting.Notifier
	logger   zerolog.Logger
	opts     RunnerOptions
}

// NewRunner builds the run boundary. A nil notifier disables failure notifications.
func NewRunner(log storage.RunLog, notifier alerting.Notifier, logger zerolog.Logger, opts RunnerOptions) *Runner {
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = defaultFinalizeTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	if notifier == nil {
		notifier = alerting.Nop{}
	}
	return &Runner{
		log:      log,
		notifier: notifier,
		logger:   logger.With().Str("component", "etl").Logger(),
		opts:     opts,
	}
}

// Run executes work inside a logged run. The returned error is non-nil only when
// the etl_log entry could not be created or finalized; work failures are reported
// through Result.Status and Result.Message.
func (r *Runner) Run(ctx context.Context, source storage.Source, endpoint string, work WorkFunc) (Result, error) {
	res := Result{
		RunID:     r.opts.NewRunID(),
		Source:    source,
		Endpoint:  endpoint,
		StartedAt: r.opts.Now(),
	}
	logger := logging.ForRun(r.logger, string(source), endpoint, res.RunID)

	logID, err := r.log.StartRun(ctx, source, endpoint, res.RunID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open etl_log entry")
		return res, fmt.Errorf("start %s run: %w", source, err)
	}
	res.LogID = logID
	logger = logger.With().Int64("log_id", logID).Logger()
	logger.Info().Msg("run started")

	out, workErr := safely(ctx, logger, work)
	res.Fetched = out.Fetched
	res.FinishedAt = r.opts.Now()

	if workErr != nil {
		res.Status = storage.StatusError
		res.Message = workErr.Error()
	} else {
		res.Status = storage.StatusOK
		res.RowsLoaded = out.Rows
		res.Skipped = len(out.Rejected)
		res.Message = out.message()
	}

	// the entry must reach a terminal state even when ctx is already cancelled
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FinalizeTimeout)
	defer cancel()

	var message *string
	if res.Message != "" {
		message = &res.Message
	}
	if err := r.log.FinishRun(finalizeCtx, logID, res.Status, res.RowsLoaded, message); err != nil {
		logger.Error().Err(err).Str("status", string(res.Status)).Msg("failed to finalize etl_log entry")
		return res, fmt.Errorf("finalize %s run %d: %w", source, logID, err)
	}

	if res.Failed() {
		logger.Error().Str("message", res.Message).Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).Msg("run failed")
		r.notify(finalizeCtx, logger, res)
		return res, nil
	}

	event := logger.Info()
	if res.Skipped > 0 {
		event = logger.Warn()
	}
	event.Int("rows", res.RowsLoaded).
		Int("fetched", res.Fetched).
		Int("skipped", res.Skipped).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("run finished")
	return res, nil
}

func (r *Runner) notify(ctx context.Context, logger zerolog.Logger, res Result) {
	failure := alerting.RunFailure{
		LogID:      res.LogID,
		RunID:      res.RunID,
		Source:     string(res.Source),
		Endpoint:   res.Endpoint,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		RowsLoaded: res.RowsLoaded,
		Message:    res.Message,
	}
	if err := r.notifier.Notify(ctx, failure); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch failure notification")
	}
}

func safely(ctx context.Context, logger zerolog.Logger, work WorkFunc) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("run panicked")
			out = Outcome{}
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return work(ctx, logger)
}

func logRejected(logger zerolog.Logger, rejected []Rejected) {
	for _, rej := range rejected {
		logger.Debug().Int("index", rej.Index).Str("reason", rej.Reason).Msg("item skipped")
	}
}
