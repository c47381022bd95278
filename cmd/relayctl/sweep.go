package main

import (
	"fmt"
	"time"

	"factcheck-relay/internal/pipeline"

	"github.com/spf13/cobra"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete persisted render queues older than client.stale_after",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := pipeline.NewSQLiteQueueStore(cfg.Client.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Sweep(cmd.Context(), time.Now().Add(-cfg.Client.StaleAfter))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale queue(s)\n", removed)
			return nil
		},
	}
}
