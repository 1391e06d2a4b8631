package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage the offline submission queue",
}

var syncDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Submit queued readings to the sync endpoint now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Sync.Endpoint == "" {
			return fmt.Errorf("sync.endpoint is not configured")
		}
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{sync: true})
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		res, err := a.drainer.Drain(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Submitted %d, failed %d, purged %d, remaining %d\n",
			res.Submitted, len(res.Failed), res.Purged, res.Remaining)
		for _, f := range res.Failed {
			fmt.Fprintf(out, "  %s\n", f)
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncDrainCmd)
	rootCmd.AddCommand(syncCmd)
}
