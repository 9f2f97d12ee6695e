// Package verify inspects a tenant's harvest pipeline end to end and
// reports inconsistencies between queue state and persisted observations.
// It is strictly read-only; fixing anything is left to the reaper or the
// operator.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/logging"
)

// queueScanLimit bounds how many recent queue items one verification
// inspects.
const queueScanLimit = 100

// Report is the outcome of one verification run.
type Report struct {
	TenantID          string           `json:"tenant_id"`
	HasData           bool             `json:"has_data"`
	ObservationCount  int64            `json:"observation_count"`
	TileCount         int64            `json:"tile_count"`
	LatestObservation *time.Time       `json:"latest_observation,omitempty"`
	QueueCounts       map[string]int64 `json:"queue_counts"`
	Issues            []string         `json:"issues"`
	Recommendations   []string         `json:"recommendations"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// Verifier builds verification reports.
type Verifier struct {
	store    datastore.Interface
	settings *conf.Settings
	logger   *slog.Logger
}

// NewVerifier creates a verifier over the given store.
func NewVerifier(store datastore.Interface, settings *conf.Settings) *Verifier {
	logger := logging.ForService("verify")
	if logger == nil {
		logger = slog.Default().With("service", "verify")
	}
	return &Verifier{store: store, settings: settings, logger: logger}
}

// Verify inspects the tenant's pipeline and returns a report of issues and
// recommendations.
func (v *Verifier) Verify(ctx context.Context, tenantID string) (*Report, error) {
	report := &Report{TenantID: tenantID, GeneratedAt: time.Now()}

	obsCount, err := v.store.CountObservations(ctx, tenantID)
	if err != nil {
		return nil, v.wrap(err, tenantID)
	}
	report.ObservationCount = obsCount
	report.HasData = obsCount > 0

	if report.HasData {
		recent, err := v.store.RecentObservations(ctx, tenantID, 1)
		if err != nil {
			return nil, v.wrap(err, tenantID)
		}
		if len(recent) > 0 {
			report.LatestObservation = &recent[0].CreatedAt
		}
	}

	tileCount, err := v.store.CountTiles(ctx, tenantID)
	if err != nil {
		return nil, v.wrap(err, tenantID)
	}
	report.TileCount = tileCount

	counts, err := v.store.QueueStatusCounts(ctx, tenantID)
	if err != nil {
		return nil, v.wrap(err, tenantID)
	}
	report.QueueCounts = counts

	items, err := v.store.GetQueueItems(ctx, tenantID, queueScanLimit)
	if err != nil {
		return nil, v.wrap(err, tenantID)
	}

	now := time.Now()
	stuckCutoff := now.Add(-v.settings.StuckThreshold())
	staleCutoff := now.Add(-v.settings.FreshWindow())

	for i := range items {
		item := &items[i]
		switch item.Status {
		case datastore.StatusQueued:
			if item.CreatedAt.Before(staleCutoff) {
				report.Issues = append(report.Issues,
					fmt.Sprintf("queue item %s has been queued for over %s without being dispatched", item.ID, v.settings.FreshWindow()))
			}
		case datastore.StatusProcessing:
			if item.StartedAt != nil && item.StartedAt.Before(stuckCutoff) {
				report.Issues = append(report.Issues,
					fmt.Sprintf("queue item %s stuck in processing since %s", item.ID, item.StartedAt.Format(time.RFC3339)))
			}
		case datastore.StatusCompleted:
			lands := item.Lands()
			if len(lands) == 0 {
				continue
			}
			count, err := v.store.CountObservationsForLands(ctx, tenantID, lands)
			if err != nil {
				return nil, v.wrap(err, tenantID)
			}
			if count == 0 {
				report.Issues = append(report.Issues,
					fmt.Sprintf("queue item %s completed but none of its %d lands have observations", item.ID, len(lands)))
			}
		case datastore.StatusFailed:
			report.Issues = append(report.Issues,
				fmt.Sprintf("queue item %s failed after %d attempts: %s", item.ID, item.RetryCount, item.LastError))
		}
	}

	report.Recommendations = v.recommend(report)
	v.logger.Debug("verification finished",
		"tenant_id", tenantID, "issues", len(report.Issues), "observations", obsCount)
	return report, nil
}

// recommend derives operator guidance from the report's findings.
func (v *Verifier) recommend(report *Report) []string {
	var recs []string
	if !report.HasData {
		if report.QueueCounts[datastore.StatusQueued] > 0 || report.QueueCounts[datastore.StatusProcessing] > 0 {
			recs = append(recs, "No observations yet but work is pending; run the dispatcher and re-verify.")
		} else {
			recs = append(recs, "No observations and nothing queued; enqueue an auto-harvest run.")
		}
	}
	if report.LatestObservation != nil && time.Since(*report.LatestObservation) > v.settings.FreshWindow() {
		recs = append(recs, "Newest observation is older than the freshness window; enqueue a fresh harvest run.")
	}
	if report.QueueCounts[datastore.StatusProcessing] > 0 {
		recs = append(recs, "Items are in processing; if they persist, run the stuck-item reaper.")
	}
	if report.QueueCounts[datastore.StatusFailed] > 0 {
		recs = append(recs, "Failed items present; inspect their errors before re-enqueueing the affected lands.")
	}
	if report.TileCount == 0 {
		recs = append(recs, "No satellite tiles registered; harvests cannot produce data until imagery arrives.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Pipeline looks healthy.")
	}
	return recs
}

func (v *Verifier) wrap(err error, tenantID string) error {
	return errors.Wrap(err).
		Component("verify").
		Category(errors.CategoryVerification).
		Context("tenant_id", tenantID).
		Build()
}
