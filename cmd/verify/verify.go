// Package verify implements the one-shot pipeline verification run.
package verify

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agrisat/harvest-go/internal/app"
	"github.com/agrisat/harvest-go/internal/conf"
)

// Command returns the verify subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a tenant's harvest pipeline and report issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			report, err := application.Verifier.Verify(cmd.Context(), tenantID)
			if err != nil {
				return err
			}

			output, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to verify")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
