package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"finsign-bi/internal/app"
)

var (
	loadDryRun bool
	wbSince    string
	wbUntil    string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Run a single marketplace loader",
}

var loadOzonCmd = &cobra.Command{
	Use:   "ozon",
	Short: "Load the Ozon warehouse stock snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().LoadOzon(cmd.Context(), loadDryRun)
	},
}

var loadWBCmd = &cobra.Command{
	Use:   "wb",
	Short: "Load Wildberries sales for a date window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseDate("since", wbSince)
		if err != nil {
			return err
		}
		until, err := parseDate("until", wbUntil)
		if err != nil {
			return err
		}
		if since != nil && until != nil && until.Before(*since) {
			return fmt.Errorf("--since must not be after --until")
		}

		return getApp().LoadWB(cmd.Context(), app.LoadWBOptions{
			Since:  since,
			Until:  until,
			DryRun: loadDryRun,
		})
	},
}

func init() {
	loadCmd.PersistentFlags().BoolVar(&loadDryRun, "dry-run", false, "Fetch and normalize without writing to storage")
	loadWBCmd.Flags().StringVar(&wbSince, "since", "", "Window start (YYYY-MM-DD, defaults to now minus wb.lookback)")
	loadWBCmd.Flags().StringVar(&wbUntil, "until", "", "Window end (YYYY-MM-DD, defaults to now)")

	loadCmd.AddCommand(loadOzonCmd)
	loadCmd.AddCommand(loadWBCmd)
}
