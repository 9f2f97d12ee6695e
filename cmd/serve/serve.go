// Package serve implements the long-running server mode: the HTTP API plus
// the periodic dispatcher and reaper loops.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrisat/harvest-go/internal/api"
	"github.com/agrisat/harvest-go/internal/app"
	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/logging"
)

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with periodic dispatch and reaper loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), settings)
		},
	}
}

func runServe(ctx context.Context, settings *conf.Settings) error {
	application, err := app.New(settings)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	controller := api.New(&api.Options{
		Settings:     settings,
		Store:        application.Store,
		Harvest:      application.Harvest,
		Processor:    application.Processor,
		Reaper:       application.Reaper,
		Verifier:     application.Verifier,
		Orchestrator: application.Orchestrator,
		Guard:        application.Guard,
		Worker:       application.Worker,
		Metrics:      application.Metrics,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- controller.Start()
	}()

	go dispatchLoop(ctx, application, settings)
	go reaperLoop(ctx, application, settings)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logging.Info("shutting down")
	return controller.Shutdown(shutdownCtx)
}

// dispatchLoop periodically runs the queue dispatcher.
func dispatchLoop(ctx context.Context, application *app.App, settings *conf.Settings) {
	ticker := time.NewTicker(settings.DispatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := application.Processor.ProcessQueue(ctx, 0); err != nil {
				logging.Error("dispatch loop run failed", "error", err)
			}
		}
	}
}

// reaperLoop periodically sweeps every tenant with queue items.
func reaperLoop(ctx context.Context, application *app.App, settings *conf.Settings) {
	ticker := time.NewTicker(settings.ReaperInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := application.Store.QueueTenants(ctx)
			if err != nil {
				logging.Error("reaper loop could not list tenants", "error", err)
				continue
			}
			for _, tenant := range tenants {
				if _, _, err := application.Reaper.Sweep(ctx, tenant); err != nil {
					logging.Error("reaper sweep failed", "tenant_id", tenant, "error", err)
				}
			}
		}
	}
}
