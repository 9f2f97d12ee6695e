package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
)

func newOrchestrator(t *testing.T) (*Orchestrator, *datastore.SQLiteStore) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "jobs.db")
	settings.Harvest.DefaultTile = "43RGN"

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return NewOrchestrator(store, settings), store.(*datastore.SQLiteStore)
}

func polygonAt(lng, lat float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%f,%f],[%f,%f],[%f,%f],[%f,%f]]]}`,
		lng, lat, lng+0.01, lat, lng+0.01, lat+0.01, lng, lat)
}

func TestCreateJobsForTile(t *testing.T) {
	t.Parallel()
	orchestrator, store := newOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, store.DB.Create(&datastore.SatelliteTile{
		TenantID:        "tenant-a",
		TileID:          "43RGN",
		AcquisitionDate: "2026-08-27",
		RasterPath:      "tiles/43RGN/2026-08-27.tif",
	}).Error)

	jobs, err := orchestrator.CreateJobsForTile(ctx, "tenant-a", "43RGN", []string{"land-1", "land-2"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	for _, job := range jobs {
		assert.Equal(t, TypeLandClipping, job.JobType)
		assert.Equal(t, datastore.JobStatusPending, job.Status)
		assert.Equal(t, "land", job.TargetType)

		var params ClipParameters
		require.NoError(t, json.Unmarshal([]byte(job.Parameters), &params))
		assert.Equal(t, "43RGN", params.TileID)
		assert.Equal(t, job.TargetID, params.LandID)
		assert.Equal(t, "tiles/43RGN/2026-08-27.tif", params.RasterPath)
		assert.Equal(t, "2026-08-27", params.AcquisitionDate)
	}

	stored, err := store.GetJobs(ctx, "tenant-a", TypeLandClipping, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCreateJobsForTileResolvesLandsFromTile(t *testing.T) {
	t.Parallel()
	orchestrator, store := newOrchestrator(t)
	ctx := context.Background()

	parcels := []datastore.LandParcel{
		{ID: uuid.New().String(), TenantID: "tenant-a", Boundary: polygonAt(79.5, 17.2)}, // 43RGN
		{ID: uuid.New().String(), TenantID: "tenant-a", Boundary: polygonAt(79.5, 21.8)}, // 43RHP
	}
	require.NoError(t, store.DB.Create(&parcels).Error)

	// No explicit lands: the tenant's parcels on the tile are used.
	jobs, err := orchestrator.CreateJobsForTile(ctx, "tenant-a", "43RGN", nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, parcels[0].ID, jobs[0].TargetID)
	assert.Equal(t, TypeLandClipping, jobs[0].JobType)
}

func TestCreateJobsForTileNoLands(t *testing.T) {
	t.Parallel()
	orchestrator, _ := newOrchestrator(t)

	// No explicit lands and no parcels on the tile at all.
	jobs, err := orchestrator.CreateJobsForTile(context.Background(), "tenant-a", "43RHP", nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateHarvestJobsPairsQueueEntries(t *testing.T) {
	t.Parallel()
	orchestrator, store := newOrchestrator(t)
	ctx := context.Background()

	parcels := []datastore.LandParcel{
		{ID: uuid.New().String(), TenantID: "tenant-a", Boundary: polygonAt(79.5, 17.2)}, // 43RGN
		{ID: uuid.New().String(), TenantID: "tenant-a", Boundary: polygonAt(79.5, 21.8)}, // 43RHP
	}
	require.NoError(t, store.DB.Create(&parcels).Error)

	jobs, err := orchestrator.CreateHarvestJobs(ctx, "tenant-a", []string{"43RGN", "43RJP"})
	require.NoError(t, err)
	require.Len(t, jobs, 1) // 43RJP has no parcels

	assert.Equal(t, TypeTileHarvest, jobs[0].JobType)
	assert.Equal(t, "43RGN", jobs[0].TargetID)

	var params HarvestParameters
	require.NoError(t, json.Unmarshal([]byte(jobs[0].Parameters), &params))
	assert.Equal(t, 1, params.LandCount)

	// The paired queue entry exists and carries the right land.
	item, err := store.GetQueueItem(ctx, params.QueueID)
	require.NoError(t, err)
	assert.Equal(t, "43RGN", item.TileID)
	assert.Equal(t, []string{parcels[0].ID}, item.Lands())

	items, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRetryFailed(t *testing.T) {
	t.Parallel()
	orchestrator, store := newOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, store.InsertJobs(ctx, []datastore.SystemJob{
		{ID: uuid.New().String(), TenantID: "tenant-a", JobType: TypeLandClipping, Status: datastore.JobStatusFailed, ErrorMessage: "clip timeout"},
		{ID: uuid.New().String(), TenantID: "tenant-a", JobType: TypeLandClipping, Status: datastore.JobStatusCompleted},
		{ID: uuid.New().String(), TenantID: "tenant-a", JobType: TypeTileHarvest, Status: datastore.JobStatusFailed},
	}))

	reset, err := orchestrator.RetryFailed(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	counts, err := orchestrator.JobStatus(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[datastore.JobStatusPending])
	assert.Equal(t, int64(1), counts[datastore.JobStatusCompleted])
	assert.Equal(t, int64(1), counts[datastore.JobStatusFailed]) // harvest job untouched
}
