package cli

import (
	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute mart.fact_sales from the raw tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rebuild(cmd.Context())
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Close etl_log entries stuck in running longer than etl.stale_after",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reap(cmd.Context())
	},
}
