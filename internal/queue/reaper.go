package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/logging"
	"github.com/agrisat/harvest-go/internal/observability"
)

// Reaper recovers queue items stranded in processing by a dispatch run
// that died mid-flight. It is the only liveness mechanism: nothing else
// ever touches an item another invocation claimed.
type Reaper struct {
	store    datastore.Interface
	metrics  *observability.Metrics
	settings *conf.Settings
	logger   *slog.Logger
}

// NewReaper creates a reaper. metrics may be nil in one-shot CLI runs.
func NewReaper(store datastore.Interface, metrics *observability.Metrics, settings *conf.Settings) *Reaper {
	logger := logging.ForService("queue-reaper")
	if logger == nil {
		logger = slog.Default().With("service", "queue-reaper")
	}
	return &Reaper{store: store, metrics: metrics, settings: settings, logger: logger}
}

// ResetStuck returns processing items older than the stuck threshold to
// queued with a fresh retry budget.
func (r *Reaper) ResetStuck(ctx context.Context, tenantID string) (int64, error) {
	cutoff := time.Now().Add(-r.settings.StuckThreshold())
	reset, err := r.store.ResetStuckItems(ctx, tenantID, cutoff)
	if err != nil {
		return 0, errors.Wrap(err).
			Component("queue-reaper").
			Category(errors.CategoryDatabase).
			Context("tenant_id", tenantID).
			Build()
	}
	if reset > 0 {
		r.logger.Warn("reset stuck queue items", "tenant_id", tenantID, "count", reset)
		if r.metrics != nil {
			r.metrics.StuckItemsReset.Add(float64(reset))
		}
	}
	return reset, nil
}

// PurgeFailed deletes failed items past the retention window.
func (r *Reaper) PurgeFailed(ctx context.Context, tenantID string) (int64, error) {
	cutoff := time.Now().Add(-r.settings.FailedRetention())
	purged, err := r.store.PurgeFailedItems(ctx, tenantID, cutoff)
	if err != nil {
		return 0, errors.Wrap(err).
			Component("queue-reaper").
			Category(errors.CategoryDatabase).
			Context("tenant_id", tenantID).
			Build()
	}
	if purged > 0 {
		r.logger.Info("purged old failed queue items", "tenant_id", tenantID, "count", purged)
		if r.metrics != nil {
			r.metrics.FailedItemsPurged.Add(float64(purged))
		}
	}
	return purged, nil
}

// Sweep runs both reaper passes and refreshes the queue depth gauges.
func (r *Reaper) Sweep(ctx context.Context, tenantID string) (reset, purged int64, err error) {
	reset, err = r.ResetStuck(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	purged, err = r.PurgeFailed(ctx, tenantID)
	if err != nil {
		return reset, 0, err
	}
	if r.metrics != nil {
		if counts, countErr := r.store.QueueStatusCounts(ctx, tenantID); countErr == nil {
			r.metrics.UpdateQueueDepth(counts)
		}
	}
	return reset, purged, nil
}
