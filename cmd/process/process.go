// Package process implements the one-shot dispatcher run.
package process

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agrisat/harvest-go/internal/app"
	"github.com/agrisat/harvest-go/internal/conf"
)

// Command returns the process subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Dispatch eligible queue items to the satellite worker once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			result, err := application.Processor.ProcessQueue(cmd.Context(), limit)
			if err != nil {
				return err
			}

			output, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum queue items to dispatch (0 uses the configured batch limit)")
	return cmd
}
