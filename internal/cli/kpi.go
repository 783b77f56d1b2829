package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"finsign-bi/internal/app"
)

var (
	kpiFrom   string
	kpiTo     string
	runsLimit int
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Display daily revenue, profit and margin per marketplace",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDate("from", kpiFrom)
		if err != nil {
			return err
		}
		to, err := parseDate("to", kpiTo)
		if err != nil {
			return err
		}
		return getApp().ShowKPI(cmd.Context(), app.KPIOptions{From: from, To: to})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Display recent ETL runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowRuns(cmd.Context(), app.RunsOptions{Limit: runsLimit})
	},
}

func init() {
	kpiCmd.Flags().StringVar(&kpiFrom, "from", "", "First date (YYYY-MM-DD, inclusive)")
	kpiCmd.Flags().StringVar(&kpiTo, "to", "", "Last date (YYYY-MM-DD, inclusive, defaults to today)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to display")
}
