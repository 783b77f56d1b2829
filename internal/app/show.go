package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"finsign-bi/internal/mart"
	"finsign-bi/internal/storage"
)

// ShowKPI prints vw_kpi rows for a window followed by per-marketplace totals.
func (a *App) ShowKPI(ctx context.Context, opts KPIOptions) error {
	from, to, err := resolveWindow(opts.From, opts.To, a.Config.Export.DefaultDays, time.Now().UTC())
	if err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx, "show kpi")
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.ListKPI(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(os.Stdout, "no kpi rows between %s and %s\n", from.Format(time.DateOnly), to.Format(time.DateOnly))
		return nil
	}

	renderKPI(os.Stdout, rows)
	return nil
}

// ShowRuns prints the most recent etl_log entries.
func (a *App) ShowRuns(ctx context.Context, opts RunsOptions) error {
	if opts.Limit <= 0 {
		return errors.New("limit must be greater than zero")
	}

	store, closeStore, err := a.requireStore(ctx, "show runs")
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	renderRuns(os.Stdout, entries)
	return nil
}

func renderKPI(w io.Writer, rows []storage.KPIRow) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(writer, "Date\tMarketplace\tRevenue\tCost\tProfit\tMargin\t")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.Date.Format(time.DateOnly),
			row.Marketplace,
			formatDecimal(row.Revenue, 2),
			formatDecimal(row.Cost, 2),
			formatDecimal(row.Profit, 2),
			formatMargin(row.Margin),
		)
	}

	summary := mart.Summarize(rows)
	fmt.Fprintln(writer, "\t\t\t\t\t\t")
	for _, mp := range summary.Marketplaces {
		fmt.Fprintf(writer, "total\t%s\t%s\t%s\t%s\t%s\t\n",
			mp.Marketplace,
			formatDecimal(mp.Revenue, 2),
			formatDecimal(mp.Cost, 2),
			formatDecimal(mp.Profit, 2),
			formatMargin(mp.Margin),
		)
	}
	fmt.Fprintf(writer, "total\tall\t%s\t%s\t%s\t%s\t\n",
		formatDecimal(summary.Total.Revenue, 2),
		formatDecimal(summary.Total.Cost, 2),
		formatDecimal(summary.Total.Profit, 2),
		formatMargin(summary.Total.Margin),
	)
	writer.Flush()
}

func renderRuns(w io.Writer, entries []storage.EtlLogEntry) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tStarted (UTC)\tSource\tEndpoint\tStatus\tRows\tDuration\tMessage")

	for _, e := range entries {
		duration := "-"
		if e.FinishedAt != nil {
			duration = e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		msg := ""
		if e.Message != nil {
			msg = sanitizeInline(*e.Message)
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID,
			e.StartedAt.UTC().Format(time.RFC3339),
			e.Source,
			e.Endpoint,
			e.Status,
			e.RowsLoaded,
			duration,
			msg,
		)
	}

	writer.Flush()
}

// resolveWindow fills missing bounds: to defaults to today, from to days-1 days before to.
func resolveWindow(from, to *time.Time, days int, now time.Time) (time.Time, time.Time, error) {
	if days <= 0 {
		days = 30
	}

	y, m, d := now.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if to != nil {
		end = to.UTC()
	}
	start := end.AddDate(0, 0, 1-days)
	if from != nil {
		start = from.UTC()
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return start, end, nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatMargin(m *decimal.Decimal) string {
	if m == nil {
		return "-"
	}
	return m.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
