// Package enqueue implements the one-shot auto-harvest enqueue run.
package enqueue

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agrisat/harvest-go/internal/app"
	"github.com/agrisat/harvest-go/internal/conf"
)

// Command returns the enqueue subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		tenantID string
		instant  bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Group a tenant's stale parcels into tile batches and enqueue them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			summary, err := application.Harvest.EnqueueAutoHarvest(cmd.Context(), tenantID)
			if err != nil {
				return err
			}

			output, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))

			if instant {
				result, err := application.Processor.ProcessQueue(cmd.Context(), 0)
				if err != nil {
					return err
				}
				output, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(output))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to enqueue for")
	cmd.Flags().BoolVar(&instant, "instant", false, "Dispatch the queue immediately after enqueueing")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
