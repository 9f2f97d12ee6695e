// Package cmd assembles the command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agrisat/harvest-go/cmd/enqueue"
	"github.com/agrisat/harvest-go/cmd/process"
	"github.com/agrisat/harvest-go/cmd/reap"
	"github.com/agrisat/harvest-go/cmd/serve"
	verifycmd "github.com/agrisat/harvest-go/cmd/verify"
	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/logging"
)

// RootCommand creates and returns the root command with all subcommands
// attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "harvest-go",
		Short: "Satellite vegetation index harvest orchestrator",
		Long: `harvest-go orchestrates NDVI/EVI/NDWI/SAVI satellite observation
harvesting over tenant land parcels: it batches stale parcels per satellite
tile, drives a durable dispatch queue against the external processing
worker, enforces per-tenant quotas and verifies that completed work
actually produced data.`,
		// Flags are parsed by now; -d may have flipped Debug after the
		// log level was set from the config file.
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if settings.Debug {
				logging.SetLevel(slog.LevelDebug)
			}
		},
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		process.Command(settings),
		reap.Command(settings),
		verifycmd.Command(settings),
		enqueue.Command(settings),
	)

	setupFlags(rootCmd, settings)
	return rootCmd
}

// setupFlags defines global flags shared by all subcommands.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
