// Package queue drives the harvest request queue: the processor claims
// eligible items, dispatches them to the satellite worker and settles the
// outcome; the reaper recovers items orphaned by dead dispatch runs.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/logging"
	"github.com/agrisat/harvest-go/internal/observability"
	"github.com/agrisat/harvest-go/internal/quota"
	"github.com/agrisat/harvest-go/internal/worker"
)

// Dispatcher is the slice of the worker client the processor needs.
type Dispatcher interface {
	ProcessBatch(ctx context.Context, req *worker.ProcessRequest) (*worker.ProcessResponse, error)
	RequestData(ctx context.Context, requestID string) ([]worker.LandResult, error)
}

// Item outcome values mirror the observability result labels.
const (
	outcomeCompleted = observability.ResultCompleted
	outcomeRequeued  = observability.ResultRequeued
	outcomeFailed    = observability.ResultFailed
	outcomeSkipped   = observability.ResultSkipped
)

// ItemResult is the per-item outcome of one dispatch attempt.
type ItemResult struct {
	QueueID        string `json:"queue_id"`
	TenantID       string `json:"tenant_id"`
	TileID         string `json:"tile_id"`
	Outcome        string `json:"outcome"`
	ProcessedCount int    `json:"processed_count"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
}

// BatchResult summarizes one dispatcher invocation.
type BatchResult struct {
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Requeued  int          `json:"requeued"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Items     []ItemResult `json:"items"`
}

// Processor claims and dispatches queue items. It holds no mutable state;
// invocations are re-entrant and may overlap, the claim guard arbitrates.
type Processor struct {
	store      datastore.Interface
	dispatcher Dispatcher
	guard      *quota.Guard
	metrics    *observability.Metrics
	settings   *conf.Settings
	logger     *slog.Logger
}

// NewProcessor creates a queue processor. metrics may be nil in one-shot
// CLI runs.
func NewProcessor(store datastore.Interface, dispatcher Dispatcher, guard *quota.Guard, metrics *observability.Metrics, settings *conf.Settings) *Processor {
	logger := logging.ForService("queue-processor")
	if logger == nil {
		logger = slog.Default().With("service", "queue-processor")
	}
	return &Processor{
		store:      store,
		dispatcher: dispatcher,
		guard:      guard,
		metrics:    metrics,
		settings:   settings,
		logger:     logger,
	}
}

// maxRetries returns the retry budget per queue item.
func (p *Processor) maxRetries() int {
	if p.settings.Queue.MaxRetries <= 0 {
		return 3
	}
	return p.settings.Queue.MaxRetries
}

// retryBackoff returns the delay before retry number attempt (1-based):
// 1s, 2s, 4s, ...
func retryBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
}

// ProcessQueue claims up to limit eligible items and dispatches them
// sequentially. A failure on one item never affects the others; the batch
// itself only errors when the eligibility scan fails.
func (p *Processor) ProcessQueue(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = p.settings.Queue.BatchLimit
	}
	if limit <= 0 {
		limit = 10
	}

	items, err := p.store.EligibleQueueItems(ctx, limit, time.Now())
	if err != nil {
		return nil, errors.Wrap(err).
			Component("queue-processor").
			Category(errors.CategoryDatabase).
			Build()
	}

	result := &BatchResult{}
	for i := range items {
		itemResult := p.processItem(ctx, &items[i])
		result.Items = append(result.Items, itemResult)
		result.Processed++
		switch itemResult.Outcome {
		case outcomeCompleted:
			result.Succeeded++
		case outcomeRequeued:
			result.Requeued++
		case outcomeFailed:
			result.Failed++
		case outcomeSkipped:
			result.Skipped++
		}
		if p.metrics != nil {
			p.metrics.DispatchTotal.WithLabelValues(itemResult.Outcome).Inc()
			if itemResult.Outcome != outcomeSkipped {
				p.metrics.DispatchDuration.Observe(float64(itemResult.DurationMs) / 1000)
			}
		}
	}

	if result.Processed > 0 {
		p.logger.Info("dispatcher run finished",
			"processed", result.Processed, "succeeded", result.Succeeded,
			"requeued", result.Requeued, "failed", result.Failed, "skipped", result.Skipped)
	}
	return result, nil
}

// processItem runs the full dispatch cycle for one queue item: claim,
// dispatch, persist results, verify, settle.
func (p *Processor) processItem(ctx context.Context, item *datastore.HarvestQueueItem) ItemResult {
	started := time.Now()
	result := ItemResult{QueueID: item.ID, TenantID: item.TenantID, TileID: item.TileID}

	claimed, err := p.store.ClaimQueueItem(ctx, item.ID, started)
	if err != nil {
		result.Outcome = outcomeSkipped
		result.Error = err.Error()
		return result
	}
	if !claimed {
		// Another dispatcher invocation got here first.
		result.Outcome = outcomeSkipped
		return result
	}

	lands := item.Lands()
	if len(lands) == 0 {
		return p.settleFailure(ctx, item, "queue item has no land parcels", started, &result)
	}

	resp, err := p.dispatcher.ProcessBatch(ctx, &worker.ProcessRequest{
		QueueID:  item.ID,
		TenantID: item.TenantID,
		LandIDs:  lands,
		TileID:   item.TileID,
	})
	if err != nil {
		return p.settleFailure(ctx, item, err.Error(), started, &result)
	}
	if !resp.Success() {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("worker reported status %q", resp.Status)
		}
		return p.settleFailure(ctx, item, msg, started, &result)
	}

	saved, err := p.persistResults(ctx, item, resp)
	if err != nil {
		return p.settleFailure(ctx, item, err.Error(), started, &result)
	}

	// Dispatch-then-verify: the worker's word alone is not enough, at least
	// one observation row must exist for the submitted lands.
	count, err := p.store.CountObservationsForLands(ctx, item.TenantID, lands)
	if err != nil {
		return p.settleFailure(ctx, item, err.Error(), started, &result)
	}
	if count == 0 {
		return p.settleFailure(ctx, item, "worker reported success but no observations were persisted", started, &result)
	}

	duration := time.Since(started)
	processedCount := resp.ProcessedCount
	if processedCount == 0 {
		processedCount = saved
	}
	if err := p.store.CompleteQueueItem(ctx, item.ID, processedCount, duration); err != nil {
		result.Outcome = outcomeFailed
		result.Error = err.Error()
		return result
	}
	if err := p.store.MarkParcelsProcessed(ctx, item.TenantID, lands, time.Now()); err != nil {
		p.logger.Error("failed to stamp parcels after completion",
			"queue_id", item.ID, "error", err)
	}
	if err := p.guard.Consume(ctx, item.TenantID, 1); err != nil {
		p.logger.Error("failed to record quota consumption",
			"queue_id", item.ID, "tenant_id", item.TenantID, "error", err)
	}

	result.Outcome = outcomeCompleted
	result.ProcessedCount = processedCount
	result.DurationMs = duration.Milliseconds()
	return result
}

// persistResults stores the worker's per-land indices as observations.
// Falls back to the worker's data endpoint when the dispatch response
// carried no inline results. Returns the number of observations saved.
func (p *Processor) persistResults(ctx context.Context, item *datastore.HarvestQueueItem, resp *worker.ProcessResponse) (int, error) {
	results := resp.Lands
	if len(results) == 0 {
		fetched, err := p.dispatcher.RequestData(ctx, item.ID)
		if err != nil {
			return 0, fmt.Errorf("fetching worker results: %w", err)
		}
		results = fetched
	}

	observations := make([]datastore.VegetationObservation, 0, len(results))
	for i := range results {
		r := &results[i]
		if r.LandID == "" || (r.Status != "" && r.Status != "success") {
			continue
		}
		observations = append(observations, datastore.VegetationObservation{
			TenantID:        item.TenantID,
			LandID:          r.LandID,
			Date:            r.Date,
			NDVIValue:       r.NDVI,
			EVIValue:        r.EVI,
			NDWIValue:       r.NDWI,
			SAVIValue:       r.SAVI,
			NDVIMin:         r.NDVIMin,
			NDVIMax:         r.NDVIMax,
			NDVIMean:        r.NDVIMean,
			NDVIStd:         r.NDVIStd,
			CoveragePercent: r.CoveragePercent,
			CloudCover:      r.CloudCover,
			RasterSource:    r.RasterSource,
		})
	}

	if err := p.store.SaveObservations(ctx, observations); err != nil {
		return 0, fmt.Errorf("saving observations: %w", err)
	}
	if p.metrics != nil && len(observations) > 0 {
		p.metrics.ObservationsSaved.Add(float64(len(observations)))
	}
	return len(observations), nil
}

// settleFailure applies retry accounting for a failed dispatch: requeue
// with exponential backoff while budget remains, otherwise mark failed
// permanently.
func (p *Processor) settleFailure(ctx context.Context, item *datastore.HarvestQueueItem, message string, started time.Time, result *ItemResult) ItemResult {
	duration := time.Since(started)
	attempt := item.RetryCount + 1
	result.Error = message
	result.DurationMs = duration.Milliseconds()

	if attempt >= p.maxRetries() {
		if err := p.store.FailQueueItem(ctx, item.ID, message, attempt, duration); err != nil {
			p.logger.Error("failed to mark queue item failed", "queue_id", item.ID, "error", err)
		}
		p.logger.Warn("queue item failed permanently",
			"queue_id", item.ID, "attempts", attempt, "error", message)
		result.Outcome = outcomeFailed
		return *result
	}

	nextRetry := time.Now().Add(retryBackoff(attempt))
	if err := p.store.RequeueItem(ctx, item.ID, message, attempt, nextRetry, duration); err != nil {
		p.logger.Error("failed to requeue item", "queue_id", item.ID, "error", err)
	}
	p.logger.Info("queue item requeued for retry",
		"queue_id", item.ID, "attempt", attempt, "next_retry_at", nextRetry, "error", message)
	result.Outcome = outcomeRequeued
	return *result
}
