package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"finsign-bi/internal/etl"
	"finsign-bi/internal/storage"
)

// LoadOzon runs the Ozon stock loader once and prints its result.
func (a *App) LoadOzon(ctx context.Context, dryRun bool) error {
	store, closeStore, err := a.storeFor(ctx, dryRun, "load ozon stock")
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	res, err := svc.LoadOzon(ctx, etl.OzonOptions{DryRun: dryRun})
	if err != nil {
		return err
	}
	renderResult(os.Stdout, res)
	return runError(res)
}

// LoadWB runs the WB sales loader once over the requested window and prints its result.
func (a *App) LoadWB(ctx context.Context, opts LoadWBOptions) error {
	store, closeStore, err := a.storeFor(ctx, opts.DryRun, "load wb sales")
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	from, to := svc.DefaultWBWindow()
	if opts.Since != nil {
		from = *opts.Since
	}
	if opts.Until != nil {
		to = *opts.Until
	}

	res, err := svc.LoadWB(ctx, etl.WBOptions{From: from, To: to, DryRun: opts.DryRun})
	if err != nil {
		return err
	}
	renderResult(os.Stdout, res)
	return runError(res)
}

// Rebuild recomputes mart.fact_sales from the raw tables.
func (a *App) Rebuild(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx, "rebuild the mart")
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	res, err := svc.RebuildMart(ctx)
	if res.LogID != 0 {
		renderResult(os.Stdout, res)
	}
	return err
}

// Reap closes etl_log entries stuck in running.
func (a *App) Reap(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx, "reap stale runs")
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	n, err := svc.ReapStale(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "closed %d stale run(s)\n", n)
	return nil
}

// storeFor skips the database for dry runs when no DSN is configured.
func (a *App) storeFor(ctx context.Context, dryRun bool, purpose string) (*storage.Store, func(), error) {
	if dryRun {
		return a.openStore(ctx)
	}
	return a.requireStore(ctx, purpose)
}

// runError turns a failed run into a non-nil error so the process exits non-zero.
func runError(res etl.Result) error {
	if !res.Failed() {
		return nil
	}
	if res.LogID != 0 {
		return fmt.Errorf("%s run %d failed: %s", res.Source, res.LogID, res.Message)
	}
	return fmt.Errorf("%s run failed: %s", res.Source, res.Message)
}

func renderResult(w io.Writer, res etl.Result) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if res.LogID != 0 {
		fmt.Fprintf(writer, "Log ID\t%d\n", res.LogID)
	}
	if res.RunID != "" {
		fmt.Fprintf(writer, "Run ID\t%s\n", res.RunID)
	}
	fmt.Fprintf(writer, "Source\t%s\n", res.Source)
	fmt.Fprintf(writer, "Endpoint\t%s\n", res.Endpoint)
	fmt.Fprintf(writer, "Status\t%s\n", res.Status)
	fmt.Fprintf(writer, "Fetched\t%d\n", res.Fetched)
	fmt.Fprintf(writer, "Rows loaded\t%d\n", res.RowsLoaded)
	if res.Skipped > 0 {
		fmt.Fprintf(writer, "Skipped\t%d\n", res.Skipped)
	}
	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		fmt.Fprintf(writer, "Elapsed\t%s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}
	if res.DryRun {
		fmt.Fprintln(writer, "Dry run\tyes (nothing written)")
	}
	if res.Message != "" {
		fmt.Fprintf(writer, "Message\t%s\n", sanitizeInline(res.Message))
	}
	writer.Flush()
}
