package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"finsign-bi/internal/storage"
)

// Export renders vw_kpi rows as CSV and/or a PNG revenue chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	from, to, err := resolveWindow(opts.From, opts.To, a.Config.Export.DefaultDays, time.Now().UTC())
	if err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.ListKPI(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no kpi rows found for export window")
		return nil
	}

	a.Logger.Info().Int("rows", len(rows)).Msg("exporting kpi")

	if opts.CSVPath != "" {
		if err := writeKPICSVFile(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRevenuePNG(opts.PNGPath, rows); err != nil {
			return err
		}
	}

	return nil
}

func writeKPICSVFile(path string, rows []storage.KPIRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeKPICSV(file, rows)
}

func writeKPICSV(w io.Writer, rows []storage.KPIRow) error {
	writer := csv.NewWriter(w)

	header := []string{"date", "marketplace", "revenue", "cost", "profit", "margin"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		margin := ""
		if row.Margin != nil {
			margin = row.Margin.String()
		}
		record := []string{
			row.Date.Format(time.DateOnly),
			row.Marketplace,
			row.Revenue.StringFixed(2),
			row.Cost.StringFixed(2),
			row.Profit.StringFixed(2),
			margin,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

type revenueSeries struct {
	marketplace string
	revenue     []float64
}

// revenueByDate lines KPI rows up on a shared date axis, one series per
// marketplace, with zero revenue on days a marketplace has no row.
func revenueByDate(rows []storage.KPIRow) ([]time.Time, []revenueSeries) {
	dateIndex := make(map[time.Time]int)
	var dates []time.Time
	for _, row := range rows {
		if _, ok := dateIndex[row.Date]; !ok {
			dateIndex[row.Date] = 0
			dates = append(dates, row.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for i, d := range dates {
		dateIndex[d] = i
	}

	byMP := make(map[string][]decimal.Decimal)
	for _, row := range rows {
		values, ok := byMP[row.Marketplace]
		if !ok {
			values = make([]decimal.Decimal, len(dates))
			byMP[row.Marketplace] = values
		}
		i := dateIndex[row.Date]
		values[i] = values[i].Add(row.Revenue)
	}

	names := make([]string, 0, len(byMP))
	for name := range byMP {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]revenueSeries, 0, len(names))
	for _, name := range names {
		values := make([]float64, len(dates))
		for i, v := range byMP[name] {
			values[i] = v.InexactFloat64()
		}
		series = append(series, revenueSeries{marketplace: name, revenue: values})
	}
	return dates, series
}

func writeRevenuePNG(path string, rows []storage.KPIRow) error {
	dates, series := revenueByDate(rows)
	if len(dates) < 2 {
		return fmt.Errorf("png export needs at least two dates, got %d", len(dates))
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Revenue",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
	}
	for _, s := range series {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    s.marketplace,
			XValues: dates,
			YValues: s.revenue,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
