package cli

import (
	"github.com/spf13/cobra"

	"finsign-bi/internal/app"
)

var (
	exportFrom    string
	exportTo      string
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export KPI rows as CSV and/or a PNG revenue chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		}

		var err error
		if opts.From, err = parseDate("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseDate("to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First date (YYYY-MM-DD, inclusive, defaults to export.default_days ago)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last date (YYYY-MM-DD, inclusive, defaults to today)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
