// Package jobs orchestrates system jobs: per-parcel clipping work created
// when a tile finishes harvesting, and tile-level harvest jobs paired with
// queue entries. Jobs are dispatchable units picked up by external workers;
// this core only creates, resets and summarizes them.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/logging"
	"github.com/agrisat/harvest-go/internal/tilegrid"
)

// Job type values.
const (
	TypeLandClipping = "land_clipping"
	TypeTileHarvest  = "tile_harvest"
)

// ClipParameters is the typed payload of a land_clipping job.
type ClipParameters struct {
	TileID          string `json:"tile_id"`
	LandID          string `json:"land_id"`
	RasterPath      string `json:"raster_path,omitempty"`
	AcquisitionDate string `json:"acquisition_date,omitempty"`
}

// HarvestParameters is the typed payload of a tile_harvest job.
type HarvestParameters struct {
	QueueID   string `json:"queue_id"`
	TileID    string `json:"tile_id"`
	LandCount int    `json:"land_count"`
}

// Orchestrator creates and manages system jobs.
type Orchestrator struct {
	store    datastore.Interface
	locator  *tilegrid.Locator
	settings *conf.Settings
	logger   *slog.Logger
}

// NewOrchestrator creates a job orchestrator.
func NewOrchestrator(store datastore.Interface, settings *conf.Settings) *Orchestrator {
	logger := logging.ForService("jobs")
	if logger == nil {
		logger = slog.Default().With("service", "jobs")
	}
	return &Orchestrator{
		store:    store,
		locator:  tilegrid.New(settings.Harvest.DefaultTile),
		settings: settings,
		logger:   logger,
	}
}

// CreateJobsForTile creates one pending land_clipping job per target
// parcel of a freshly harvested tile. When landIDs is empty the tenant's
// parcels located on the tile are resolved and used instead.
func (o *Orchestrator) CreateJobsForTile(ctx context.Context, tenantID, tileID string, landIDs []string) ([]datastore.SystemJob, error) {
	if len(landIDs) == 0 {
		resolved, err := o.landsOnTile(ctx, tenantID, tileID)
		if err != nil {
			return nil, err
		}
		landIDs = resolved
	}
	if len(landIDs) == 0 {
		return nil, nil
	}

	tile, err := o.store.GetLatestTile(ctx, tenantID, tileID)
	if err != nil {
		return nil, o.wrap(err, tenantID)
	}

	jobs := make([]datastore.SystemJob, 0, len(landIDs))
	for _, landID := range landIDs {
		params := ClipParameters{TileID: tileID, LandID: landID}
		if tile != nil {
			params.RasterPath = tile.RasterPath
			params.AcquisitionDate = tile.AcquisitionDate
		}
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, o.wrap(err, tenantID)
		}
		jobs = append(jobs, datastore.SystemJob{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			JobType:    TypeLandClipping,
			TargetType: "land",
			TargetID:   landID,
			Status:     datastore.JobStatusPending,
			Parameters: string(payload),
		})
	}

	if err := o.store.InsertJobs(ctx, jobs); err != nil {
		return nil, o.wrap(err, tenantID)
	}
	o.logger.Info("created clipping jobs",
		"tenant_id", tenantID, "tile_id", tileID, "jobs", len(jobs))
	return jobs, nil
}

// landsOnTile returns the IDs of the tenant's parcels located on the tile.
func (o *Orchestrator) landsOnTile(ctx context.Context, tenantID, tileID string) ([]string, error) {
	parcels, err := o.store.GetLandParcels(ctx, tenantID)
	if err != nil {
		return nil, o.wrap(err, tenantID)
	}
	var ids []string
	for i := range parcels {
		if id, ok := o.locator.Locate(parcels[i].Boundary); ok && id == tileID {
			ids = append(ids, parcels[i].ID)
		}
	}
	return ids, nil
}

// CreateHarvestJobs creates a tile_harvest job and a paired queue entry
// for each requested tile, covering the tenant's parcels located on it.
// Tiles with no parcels are skipped.
func (o *Orchestrator) CreateHarvestJobs(ctx context.Context, tenantID string, tileIDs []string) ([]datastore.SystemJob, error) {
	parcels, err := o.store.GetLandParcels(ctx, tenantID)
	if err != nil {
		return nil, o.wrap(err, tenantID)
	}

	byTile := make(map[string][]string)
	for i := range parcels {
		tileID, ok := o.locator.Locate(parcels[i].Boundary)
		if !ok {
			continue
		}
		byTile[tileID] = append(byTile[tileID], parcels[i].ID)
	}

	var jobs []datastore.SystemJob
	var items []datastore.HarvestQueueItem
	for _, tileID := range tileIDs {
		landIDs := byTile[tileID]
		if len(landIDs) == 0 {
			o.logger.Debug("no parcels on requested tile", "tenant_id", tenantID, "tile_id", tileID)
			continue
		}

		item := datastore.HarvestQueueItem{
			ID:       uuid.New().String(),
			TenantID: tenantID,
			TileID:   tileID,
			Status:   datastore.StatusQueued,
		}
		if err := item.SetLands(landIDs); err != nil {
			return nil, o.wrap(err, tenantID)
		}
		items = append(items, item)

		payload, err := json.Marshal(HarvestParameters{
			QueueID:   item.ID,
			TileID:    tileID,
			LandCount: len(landIDs),
		})
		if err != nil {
			return nil, o.wrap(err, tenantID)
		}
		jobs = append(jobs, datastore.SystemJob{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			JobType:    TypeTileHarvest,
			TargetType: "tile",
			TargetID:   tileID,
			Status:     datastore.JobStatusPending,
			Parameters: string(payload),
		})
	}

	if len(items) > 0 {
		if err := o.store.EnqueueHarvestItems(ctx, items); err != nil {
			return nil, o.wrap(err, tenantID)
		}
	}
	if len(jobs) > 0 {
		if err := o.store.InsertJobs(ctx, jobs); err != nil {
			return nil, o.wrap(err, tenantID)
		}
	}
	o.logger.Info("created harvest jobs",
		"tenant_id", tenantID, "jobs", len(jobs), "queue_items", len(items))
	return jobs, nil
}

// RetryFailed returns failed clipping jobs to pending for another pass.
func (o *Orchestrator) RetryFailed(ctx context.Context, tenantID string) (int64, error) {
	reset, err := o.store.ResetFailedJobs(ctx, tenantID, TypeLandClipping)
	if err != nil {
		return 0, o.wrap(err, tenantID)
	}
	if reset > 0 {
		o.logger.Info("reset failed clipping jobs", "tenant_id", tenantID, "count", reset)
	}
	return reset, nil
}

// JobStatus returns job counts per status across all job types.
func (o *Orchestrator) JobStatus(ctx context.Context, tenantID string) (map[string]int64, error) {
	counts, err := o.store.JobStatusCounts(ctx, tenantID, "")
	if err != nil {
		return nil, o.wrap(err, tenantID)
	}
	return counts, nil
}

func (o *Orchestrator) wrap(err error, tenantID string) error {
	return errors.Wrap(err).
		Component("jobs").
		Category(errors.CategoryJob).
		Context("tenant_id", tenantID).
		Build()
}
