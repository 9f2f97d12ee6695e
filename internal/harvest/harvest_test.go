package harvest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/quota"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "harvest.db")
	settings.Harvest.DefaultTile = "43RGN"
	settings.Harvest.FreshWindowHours = 24
	settings.Harvest.NewParcelWindowDays = 7
	settings.Quota.DefaultLimit = 50
	settings.Quota.PlanLimits = map[string]int{"basic": 50, "growth": 200, "enterprise": 500}
	return settings
}

func newService(t *testing.T) (*Service, datastore.Interface, *conf.Settings) {
	t.Helper()
	settings := testSettings(t)
	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	guard := quota.NewGuard(store, settings)
	return NewService(store, guard, settings), store, settings
}

func polygonAt(lng, lat float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%f,%f],[%f,%f],[%f,%f],[%f,%f]]]}`,
		lng, lat, lng+0.01, lat, lng+0.01, lat+0.01, lng, lat)
}

func makeParcel(store datastore.Interface, t *testing.T, tenantID, boundary string, lastProcessed *time.Time) datastore.LandParcel {
	t.Helper()
	parcel := datastore.LandParcel{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		Boundary:        boundary,
		LastProcessedAt: lastProcessed,
		Tested:          lastProcessed != nil,
	}
	ds := store.(*datastore.SQLiteStore)
	require.NoError(t, ds.DB.Create(&parcel).Error)
	return parcel
}

func TestLandsNeedingRefresh(t *testing.T) {
	t.Parallel()
	service, store, _ := newService(t)
	ctx := context.Background()

	recent := time.Now().Add(-2 * time.Hour)
	old := time.Now().Add(-48 * time.Hour)

	never := makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.2), nil)
	stale := makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.3), &old)
	fresh := makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.4), &recent)

	due, err := service.LandsNeedingRefresh(ctx, "tenant-a")
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, parcel := range due {
		ids = append(ids, parcel.ID)
	}
	assert.Contains(t, ids, never.ID)
	assert.Contains(t, ids, stale.ID)
	assert.NotContains(t, ids, fresh.ID)
}

func TestGroupByTileTwoTiles(t *testing.T) {
	t.Parallel()
	service, _, _ := newService(t)

	parcels := []datastore.LandParcel{
		{ID: "land-1", Boundary: polygonAt(79.5, 17.2)}, // 43RGN
		{ID: "land-2", Boundary: polygonAt(79.8, 18.1)}, // 43RGN
		{ID: "land-3", Boundary: polygonAt(79.5, 21.8)}, // 43RHP
	}

	groups, skipped := service.GroupByTile(parcels)
	assert.Equal(t, 0, skipped)
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []string{"land-1", "land-2"}, groups["43RGN"])
	assert.Equal(t, []string{"land-3"}, groups["43RHP"])
}

func TestGroupByTileSkipsBadGeometry(t *testing.T) {
	t.Parallel()
	service, _, _ := newService(t)

	parcels := []datastore.LandParcel{
		{ID: "land-1", Boundary: polygonAt(79.5, 17.2)},
		{ID: "land-2", Boundary: "not geojson"},
		{ID: "land-3", Boundary: ""},
	}

	groups, skipped := service.GroupByTile(parcels)
	assert.Equal(t, 2, skipped)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"land-1"}, groups["43RGN"])
}

func TestEnqueueAutoHarvest(t *testing.T) {
	t.Parallel()
	service, store, _ := newService(t)
	ctx := context.Background()

	makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.2), nil)
	makeParcel(store, t, "tenant-a", polygonAt(79.8, 18.1), nil)
	makeParcel(store, t, "tenant-a", polygonAt(79.5, 21.8), nil)

	summary, err := service.EnqueueAutoHarvest(ctx, "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 3, summary.StaleParcels)
	assert.Equal(t, 0, summary.SkippedParcels)
	require.Len(t, summary.Batches, 2)

	batchByTile := make(map[string]BatchInfo)
	for _, batch := range summary.Batches {
		batchByTile[batch.TileID] = batch
	}
	assert.Equal(t, 2, batchByTile["43RGN"].LandCount)
	assert.Equal(t, 1, batchByTile["43RHP"].LandCount)

	items, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestEnqueueAutoHarvestNothingStale(t *testing.T) {
	t.Parallel()
	service, store, _ := newService(t)
	ctx := context.Background()

	recent := time.Now().Add(-time.Hour)
	makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.2), &recent)

	summary, err := service.EnqueueAutoHarvest(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.StaleParcels)
	assert.Empty(t, summary.Batches)

	items, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnqueueAutoHarvestAdmitsRunNearCeiling(t *testing.T) {
	t.Parallel()
	service, store, _ := newService(t)
	ctx := context.Background()

	// One operation of headroom admits a run spanning two tiles.
	makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.2), nil)
	makeParcel(store, t, "tenant-a", polygonAt(79.5, 21.8), nil)
	require.NoError(t, store.UpsertQuota(ctx, &datastore.HarvestQuota{
		TenantID:    "tenant-a",
		Plan:        "basic",
		PeriodStart: time.Now().UTC(),
		Used:        49,
		Limit:       50,
	}))

	summary, err := service.EnqueueAutoHarvest(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, summary.Batches, 2)

	items, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestEnqueueAutoHarvestQuotaExhausted(t *testing.T) {
	t.Parallel()
	service, store, _ := newService(t)
	ctx := context.Background()

	makeParcel(store, t, "tenant-a", polygonAt(79.5, 17.2), nil)
	require.NoError(t, store.UpsertQuota(ctx, &datastore.HarvestQuota{
		TenantID:    "tenant-a",
		Plan:        "basic",
		PeriodStart: time.Now().UTC(),
		Used:        50,
		Limit:       50,
	}))

	_, err := service.EnqueueAutoHarvest(ctx, "tenant-a")
	require.Error(t, err)

	var exceeded *quota.ExceededError
	assert.True(t, errors.As(err, &exceeded))

	// Nothing was enqueued on refusal.
	items, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, items)
}
