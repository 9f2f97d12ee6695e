// Package harvest decides which land parcels need fresh satellite
// observations and groups them into per-tile queue batches.
package harvest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/logging"
	"github.com/agrisat/harvest-go/internal/quota"
	"github.com/agrisat/harvest-go/internal/tilegrid"
)

// BatchInfo describes one enqueued per-tile batch.
type BatchInfo struct {
	QueueID   string `json:"queue_id"`
	TileID    string `json:"tile_id"`
	LandCount int    `json:"land_count"`
}

// BatchSummary is the outcome of one auto-harvest enqueue run.
type BatchSummary struct {
	TenantID       string         `json:"tenant_id"`
	StaleParcels   int            `json:"stale_parcels"`
	SkippedParcels int            `json:"skipped_parcels"`
	Batches        []BatchInfo    `json:"batches"`
	Quota          quota.Snapshot `json:"quota"`
}

// Service groups stale parcels into tile batches and enqueues them.
type Service struct {
	store    datastore.Interface
	locator  *tilegrid.Locator
	guard    *quota.Guard
	settings *conf.Settings
	logger   *slog.Logger
}

// NewService creates a harvest service.
func NewService(store datastore.Interface, guard *quota.Guard, settings *conf.Settings) *Service {
	logger := logging.ForService("harvest")
	if logger == nil {
		logger = slog.Default().With("service", "harvest")
	}
	return &Service{
		store:    store,
		locator:  tilegrid.New(settings.Harvest.DefaultTile),
		guard:    guard,
		settings: settings,
		logger:   logger,
	}
}

// needsRefresh reports whether a parcel is due for a new observation:
// never processed at all, newly created and not yet tested, or last
// processed outside the freshness window.
func (s *Service) needsRefresh(parcel *datastore.LandParcel, now time.Time) bool {
	if parcel.LastProcessedAt == nil {
		return true
	}
	if !parcel.Tested && now.Sub(parcel.CreatedAt) < s.settings.NewParcelWindow() {
		return true
	}
	return now.Sub(*parcel.LastProcessedAt) > s.settings.FreshWindow()
}

// LandsNeedingRefresh returns the tenant's parcels due for harvesting.
func (s *Service) LandsNeedingRefresh(ctx context.Context, tenantID string) ([]datastore.LandParcel, error) {
	parcels, err := s.store.GetLandParcels(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("harvest").
			Category(errors.CategoryDatabase).
			Context("tenant_id", tenantID).
			Build()
	}

	now := time.Now()
	stale := parcels[:0]
	for i := range parcels {
		if s.needsRefresh(&parcels[i], now) {
			stale = append(stale, parcels[i])
		}
	}
	return stale, nil
}

// GroupByTile resolves each parcel's boundary to a tile and groups parcel
// IDs per tile. Parcels with undecodable geometry are logged and skipped;
// a bad polygon never aborts the batch. The second return value is the
// number of skipped parcels.
func (s *Service) GroupByTile(parcels []datastore.LandParcel) (map[string][]string, int) {
	groups := make(map[string][]string)
	skipped := 0
	for i := range parcels {
		tileID, ok := s.locator.Locate(parcels[i].Boundary)
		if !ok {
			s.logger.Warn("skipping parcel with undecodable boundary",
				"land_id", parcels[i].ID, "tenant_id", parcels[i].TenantID)
			skipped++
			continue
		}
		groups[tileID] = append(groups[tileID], parcels[i].ID)
	}
	return groups, skipped
}

// EnqueueAutoHarvest finds stale parcels, groups them by tile and enqueues
// one queue item per tile. The quota guard is consulted before anything is
// enqueued; a tenant already at its ceiling is refused outright with a
// typed error, while any headroom at all admits the full run.
func (s *Service) EnqueueAutoHarvest(ctx context.Context, tenantID string) (*BatchSummary, error) {
	stale, err := s.LandsNeedingRefresh(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{TenantID: tenantID, StaleParcels: len(stale)}
	if len(stale) == 0 {
		snapshot, err := s.guard.Snapshot(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		summary.Quota = snapshot
		return summary, nil
	}

	groups, skipped := s.GroupByTile(stale)
	summary.SkippedParcels = skipped
	if len(groups) == 0 {
		snapshot, err := s.guard.Snapshot(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		summary.Quota = snapshot
		return summary, nil
	}

	// Refusal only applies when the ceiling is already met or exceeded;
	// a run may take the tenant over it mid-month.
	snapshot, err := s.guard.Check(ctx, tenantID, 1)
	if err != nil {
		return nil, err
	}
	summary.Quota = snapshot

	items := make([]datastore.HarvestQueueItem, 0, len(groups))
	for tileID, landIDs := range groups {
		item := datastore.HarvestQueueItem{
			ID:       uuid.New().String(),
			TenantID: tenantID,
			TileID:   tileID,
			Status:   datastore.StatusQueued,
		}
		if err := item.SetLands(landIDs); err != nil {
			return nil, errors.Wrap(err).
				Component("harvest").
				Category(errors.CategoryQueue).
				Context("tile_id", tileID).
				Build()
		}
		items = append(items, item)
		summary.Batches = append(summary.Batches, BatchInfo{
			QueueID:   item.ID,
			TileID:    tileID,
			LandCount: len(landIDs),
		})
	}

	if err := s.store.EnqueueHarvestItems(ctx, items); err != nil {
		return nil, errors.Wrap(err).
			Component("harvest").
			Category(errors.CategoryQueue).
			Context("tenant_id", tenantID).
			Build()
	}

	s.logger.Info("enqueued auto-harvest batches",
		"tenant_id", tenantID, "batches", len(items), "stale_parcels", len(stale), "skipped", skipped)
	return summary, nil
}
