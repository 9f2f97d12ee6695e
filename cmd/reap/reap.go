// Package reap implements the one-shot stuck-item reaper run.
package reap

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agrisat/harvest-go/internal/app"
	"github.com/agrisat/harvest-go/internal/conf"
)

// Command returns the reap subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Reset stuck queue items and purge old failed items for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			reset, purged, err := application.Reaper.Sweep(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d stuck items, purged %d failed items\n", reset, purged)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to sweep")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
