package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Manage the feature view",
}

var viewRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and recreate the feature view over the raw table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("etl"); err != nil {
			return err
		}

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.RebuildFeatureView(ctx); err != nil {
			return eris.Wrap(err, "view rebuild")
		}
		_, _ = fmt.Fprintf(os.Stdout, "Feature view %s rebuilt.\n", cfg.ETL.FeatureView)
		return nil
	},
}

func init() {
	viewCmd.AddCommand(viewRebuildCmd)
	rootCmd.AddCommand(viewCmd)
}
