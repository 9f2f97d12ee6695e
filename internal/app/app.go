// Package app wires the harvest services together from the loaded
// settings. Commands build an App, use the pieces they need, and Close it.
package app

import (
	"fmt"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/harvest"
	"github.com/agrisat/harvest-go/internal/jobs"
	"github.com/agrisat/harvest-go/internal/observability"
	"github.com/agrisat/harvest-go/internal/queue"
	"github.com/agrisat/harvest-go/internal/quota"
	"github.com/agrisat/harvest-go/internal/verify"
	"github.com/agrisat/harvest-go/internal/worker"
)

// App holds the fully wired service graph.
type App struct {
	Settings     *conf.Settings
	Store        datastore.Interface
	Guard        *quota.Guard
	Harvest      *harvest.Service
	Worker       *worker.Client
	Processor    *queue.Processor
	Reaper       *queue.Reaper
	Verifier     *verify.Verifier
	Orchestrator *jobs.Orchestrator
	Metrics      *observability.Metrics
}

// New opens the datastore and builds the service graph.
func New(settings *conf.Settings) (*App, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, fmt.Errorf("no database enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	guard := quota.NewGuard(store, settings)
	workerClient := worker.New(settings)

	return &App{
		Settings:     settings,
		Store:        store,
		Guard:        guard,
		Harvest:      harvest.NewService(store, guard, settings),
		Worker:       workerClient,
		Processor:    queue.NewProcessor(store, workerClient, guard, metrics, settings),
		Reaper:       queue.NewReaper(store, metrics, settings),
		Verifier:     verify.NewVerifier(store, settings),
		Orchestrator: jobs.NewOrchestrator(store, settings),
		Metrics:      metrics,
	}, nil
}

// Close releases the datastore and worker client.
func (a *App) Close() error {
	if a.Worker != nil {
		a.Worker.Close()
	}
	return a.Store.Close()
}
