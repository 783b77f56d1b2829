package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"finsign-bi/internal/alerting"
	"finsign-bi/internal/api"
	"finsign-bi/internal/config"
	"finsign-bi/internal/etl"
	"finsign-bi/internal/fetcher"
	"finsign-bi/internal/mart"
	"finsign-bi/internal/scheduler"
	"finsign-bi/internal/service"
	"finsign-bi/internal/storage"
	"finsign-bi/internal/version"
)

const notifyTimeout = 10 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (*fetcher.Ozon, *fetcher.WB) {
	userAgent := "finsign-bi/" + version.Version

	ozon := fetcher.NewOzon(fetcher.OzonOptions{
		BaseURL:      a.Config.Ozon.BaseURL,
		ClientID:     a.Config.Ozon.ClientID,
		APIKey:       a.Config.Ozon.APIKey,
		PageLimit:    a.Config.Ozon.PageLimit,
		Timeout:      a.Config.Ozon.RequestTimeout,
		MaxRetries:   a.Config.Ozon.MaxRetries,
		RetryBackoff: a.Config.Ozon.RetryBackoff,
		UserAgent:    userAgent,
	}, a.Logger)

	wb := fetcher.NewWB(fetcher.WBOptions{
		BaseURL:      a.Config.WB.BaseURL,
		Token:        a.Config.WB.Token,
		PageLimit:    a.Config.WB.PageLimit,
		PageDelay:    a.Config.WB.PageDelay,
		Timeout:      a.Config.WB.RequestTimeout,
		MaxRetries:   a.Config.WB.MaxRetries,
		RetryBackoff: a.Config.WB.RetryBackoff,
		UserAgent:    userAgent,
	}, a.Logger)

	return ozon, wb
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return alerting.Nop{}
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, notifyTimeout, a.Logger)
}

// connect opens the pool without touching the schema. A missing DSN yields a nil store.
func (a *App) connect(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openStore connects and applies the schema when database.migrate_on_start is set.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.connect(ctx)
	if err != nil || store == nil {
		return store, closeStore, err
	}
	if a.Config.Database.MigrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	return store, closeStore, nil
}

// requireStore is openStore for commands that cannot work without PostgreSQL.
func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database.dsn not configured; cannot %s: %w", purpose, storage.ErrNotConfigured)
	}
	return store, closeStore, nil
}

// newService wires fetchers, loaders and the rebuilder around store. A nil store
// is accepted for dry runs, which never reach the database.
func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) (*service.Service, error) {
	costs, err := mart.NewCostModel(a.Config.Mart.DefaultCostRatio, a.Config.Mart.CostRatios)
	if err != nil {
		return nil, err
	}

	ozonFetcher, wbFetcher := a.newFetchers()
	runner := etl.NewRunner(store, a.newNotifier(), a.Logger, etl.RunnerOptions{})

	ozon := etl.NewOzonLoader(runner, ozonFetcher, store, storage.WritePolicy(a.Config.Ozon.WritePolicy), a.Logger)
	wb := etl.NewWBLoader(runner, wbFetcher, store, storage.WritePolicy(a.Config.WB.WritePolicy), a.Logger)
	rebuilder := mart.NewRebuilder(store, runner, costs, a.Logger)

	return service.New(a.Config, sched, ozon, wb, rebuilder, store, a.Logger), nil
}

// Run executes the scheduled ETL cycle until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "run the etl cycle")
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, err := a.newService(store, sched)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting etl service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("etl service terminated with error")
		return err
	}

	a.Logger.Info().Msg("etl service stopped")
	return nil
}

// Serve runs the admin panel until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "serve the admin panel")
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	srv := api.New(svc, store, api.Options{
		Addr:           a.Config.Server.Addr,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		DefaultDays:    a.Config.Export.DefaultDays,
		Release:        a.Config.App.Environment == "production",
	}, a.Logger)
	return srv.Run(ctx)
}

// Migrate applies the schema regardless of database.migrate_on_start.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.connect(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database.dsn not configured; cannot migrate: %w", storage.ErrNotConfigured)
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	a.Logger.Info().Msg("schema is up to date")
	return nil
}

// ExportOptions hold parameters for exporting KPI rows.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
}

// KPIOptions select the window printed by the kpi command.
type KPIOptions struct {
	From *time.Time
	To   *time.Time
}

// RunsOptions configure the runs command.
type RunsOptions struct {
	Limit int
}

// LoadWBOptions configure a one-shot WB load. Nil bounds fall back to wb.lookback.
type LoadWBOptions struct {
	Since  *time.Time
	Until  *time.Time
	DryRun bool
}
